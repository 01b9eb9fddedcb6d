package rpc

import (
	"context"
	"fmt"
	"net/http"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Dial connects a JSON-RPC client whose HTTP traffic goes through a rate-limited,
// failover Transport built from o.
func Dial(ctx context.Context, o Opts) (*gethrpc.Client, *Transport, error) {
	o = o.withDefaults()
	tr, err := NewTransport(o)
	if err != nil {
		return nil, nil, err
	}
	hc := &http.Client{Transport: tr, Timeout: o.Timeout}
	client, err := gethrpc.DialOptions(ctx, tr.Primary(), gethrpc.WithHTTPClient(hc))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", tr.Primary(), err)
	}
	return client, tr, nil
}
