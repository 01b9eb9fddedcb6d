package rpc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, tr *Transport, body string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tr.Primary(), strings.NewReader(body))
	require.NoError(t, err)
	return tr.RoundTrip(req)
}

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(Opts{})
	assert.Error(t, err)

	_, err = NewTransport(Opts{Endpoints: []string{"not a url"}})
	assert.Error(t, err)

	tr, err := NewTransport(Opts{Endpoints: []string{" http://a.example/ ", "http://a.example", "http://b.example"}})
	require.NoError(t, err)
	assert.Len(t, tr.endpoints, 2)
	assert.Equal(t, "http://a.example", tr.Primary())
}

func TestTransport_FailoverOn5xx(t *testing.T) {
	var badHits, goodHits atomic.Int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer good.Close()

	tr, err := NewTransport(Opts{Endpoints: []string{bad.URL, good.URL}, RPS: 1000, BreakerFailures: 2, BreakerCooldown: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := post(t, tr, "ping")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, "ping", string(body), "body is replayed to the failover endpoint")
	}

	assert.Equal(t, int64(3), goodHits.Load())
	// breaker opened after two failures, the third request skips the bad endpoint
	assert.Equal(t, int64(2), badHits.Load())
	assert.True(t, tr.isOpen(bad.URL))
}

func TestTransport_429MovesOn(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()

	tr, err := NewTransport(Opts{Endpoints: []string{limited.URL}, RPS: 1000})
	require.NoError(t, err)

	_, err = post(t, tr, "{}")
	assert.ErrorContains(t, err, "429")
	assert.False(t, tr.isOpen(limited.URL), "rate limiting does not trip the breaker")
}

func TestTransport_AllOpen(t *testing.T) {
	tr, err := NewTransport(Opts{Endpoints: []string{"http://127.0.0.1:1"}, BreakerCooldown: time.Minute})
	require.NoError(t, err)
	tr.opened["http://127.0.0.1:1"] = time.Now().Add(time.Minute)

	_, err = post(t, tr, "{}")
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestTransport_AcquireHonoursContext(t *testing.T) {
	tr, err := NewTransport(Opts{Endpoints: []string{"http://a.example"}, RPS: 1, Burst: 1})
	require.NoError(t, err)

	require.NoError(t, tr.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.acquire(ctx), context.DeadlineExceeded)
}

func TestTransport_RefillCapsAtBurst(t *testing.T) {
	tr, err := NewTransport(Opts{Endpoints: []string{"http://a.example"}, RPS: 10, Burst: 3})
	require.NoError(t, err)

	tr.tokens = 0
	tr.refill(tr.lastRefill.Add(time.Hour))
	assert.Equal(t, float64(3), tr.tokens)
}
