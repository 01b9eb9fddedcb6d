package rpc

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/crypto/sha3"
)

// selector returns the 4-byte identifier of a function or custom error signature.
func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

var notFoundSelector = selector(depositNotFoundError)

// isDepositNotFound reports whether an eth_call failure is the escrow's
// DepositNotFound revert. Nodes either return the revert data on the JSON-RPC
// error or only mention the decoded error name in the message.
func isDepositNotFound(err error) bool {
	if err == nil {
		return false
	}
	var de gethrpc.DataError
	if errors.As(err, &de) {
		if raw, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(raw); decErr == nil && len(data) >= 4 && bytes.Equal(data[:4], notFoundSelector) {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), depositNotFoundMarker)
}
