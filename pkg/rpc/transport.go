package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/zkp2p/slack-liquidity-bot/pkg/utils"
)

// ErrNoEndpoint is returned when every configured endpoint has an open breaker.
var ErrNoEndpoint = errors.New("no rpc endpoint available")

// Transport is an http.RoundTripper that implements a token-bucket, a per-endpoint
// circuit-breaker and failover across endpoints. It sits underneath the
// go-ethereum JSON-RPC client so every eth_call, batched or not, is rate limited.
type Transport struct {
	endpoints []*url.URL
	base      http.RoundTripper

	// token-bucket
	bucketMu    sync.Mutex
	tokens      float64
	maxTokens   float64
	refillEvery time.Duration
	lastRefill  time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new Transport.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	// Base is the underlying round tripper, http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (o Opts) withDefaults() Opts {
	if o.RPS <= 0 {
		o.RPS = 10
	}
	if o.Burst <= 0 {
		o.Burst = 2 * o.RPS
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	if o.Base == nil {
		o.Base = http.DefaultTransport
	}
	return o
}

// NewTransport creates a new Transport with the given options.
func NewTransport(o Opts) (*Transport, error) {
	o = o.withDefaults()
	raw := utils.Dedup(o.Endpoints)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	endpoints := make([]*url.URL, 0, len(raw))
	for _, ep := range raw {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid rpc endpoint %q", ep)
		}
		endpoints = append(endpoints, u)
	}

	return &Transport{
		endpoints:        endpoints,
		base:             o.Base,
		tokens:           float64(o.Burst),
		maxTokens:        float64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		lastRefill:       time.Now(),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}, nil
}

// Primary returns the first endpoint; the JSON-RPC client is dialled against it
// and the transport rewrites the target on failover.
func (t *Transport) Primary() string {
	return t.endpoints[0].String()
}

// refill credits the tokens accrued since the last refill.
func (t *Transport) refill(now time.Time) {
	elapsed := now.Sub(t.lastRefill)
	if elapsed < t.refillEvery {
		return
	}
	t.tokens += float64(elapsed) / float64(t.refillEvery)
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = now
}

// acquire takes a token from the bucket, blocking until one is available or ctx ends.
func (t *Transport) acquire(ctx context.Context) error {
	for {
		t.bucketMu.Lock()
		t.refill(time.Now())
		if t.tokens >= 1 {
			t.tokens--
			t.bucketMu.Unlock()
			return nil
		}
		t.bucketMu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.refillEvery / 2):
		}
	}
}

// isOpen returns true if the endpoint's breaker is OPEN.
func (t *Transport) isOpen(ep string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.opened, ep)
		t.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the breaker once the threshold is hit.
func (t *Transport) noteFailure(ep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[ep]++
	if t.failures[ep] >= t.breakerThreshold {
		t.opened[ep] = time.Now().Add(t.breakerCooldown)
	}
}

func (t *Transport) noteSuccess(ep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[ep] = 0
}

// RoundTrip sends the request to the first healthy endpoint, retrying the next
// endpoint on connection errors, 5xx and 429 responses.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var payload []byte
	if req.Body != nil {
		bz, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		payload = bz
	}

	lastErr := ErrNoEndpoint
	for _, target := range t.endpoints {
		ep := target.String()
		// Skip endpoints whose breaker is OPEN.
		if t.isOpen(ep) {
			continue
		}

		if err := t.acquire(req.Context()); err != nil {
			return nil, err
		}

		out := req.Clone(req.Context())
		out.URL = target
		out.Host = target.Host
		out.Body = io.NopCloser(bytes.NewReader(payload))
		out.ContentLength = int64(len(payload))
		out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(payload)), nil }

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			lastErr = err
			t.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			t.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		t.noteSuccess(ep)
		return resp, nil
	}

	return nil, lastErr
}
