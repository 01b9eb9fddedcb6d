// Package notify delivers liquidity reports to chat platforms.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/retry"
	"github.com/zkp2p/slack-liquidity-bot/pkg/utils"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Notifier delivers reports to one destination.
type Notifier interface {
	Name() string
	SendReport(ctx context.Context, r *report.Report) error
	// SendFailure reports a scan-level failure, distinct from an empty report.
	SendFailure(ctx context.Context, cause error) error
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Retryable reports whether a delivery error is worth another attempt: network
// errors, 429 and 5xx are; other client errors and API rejections are not.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ae *SlackAPIError
	if errors.As(err, &ae) {
		return ae.Code == "ratelimited" || ae.Code == "internal_error" || ae.Code == "service_unavailable"
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// postJSON sends payload and returns the response body of a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	bz, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bz))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := utils.ReadAndClose(resp.Body, maxErrorBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// Dispatcher fans a report out to every notifier concurrently, retrying each one.
type Dispatcher struct {
	notifiers []Notifier
	retry     retry.Config
	logger    *zap.Logger
}

// NewDispatcher returns a Dispatcher over notifiers. Callers pass only the
// configured ones: a nil *Slack stored in a Notifier is not nil.
func NewDispatcher(logger *zap.Logger, cfg retry.Config, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{retry: cfg, logger: logger}
	d.retry.Retryable = Retryable
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Len is the number of configured notifiers.
func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Deliver sends r everywhere; the result joins every notifier's final error.
func (d *Dispatcher) Deliver(ctx context.Context, r *report.Report) error {
	return d.each(ctx, "report", func(n Notifier) error { return n.SendReport(ctx, r) })
}

// DeliverFailure sends a failure message everywhere.
func (d *Dispatcher) DeliverFailure(ctx context.Context, cause error) error {
	return d.each(ctx, "failure", func(n Notifier) error { return n.SendFailure(ctx, cause) })
}

func (d *Dispatcher) each(ctx context.Context, kind string, send func(Notifier) error) error {
	if len(d.notifiers) == 0 {
		d.logger.Debug("No notifiers configured, skipping delivery", zap.String("kind", kind))
		return nil
	}

	errs := make([]error, len(d.notifiers))
	var wg sync.WaitGroup
	for i, n := range d.notifiers {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			op := n.Name() + " " + kind
			err := retry.WithBackoff(ctx, d.retry, d.logger, op, func() error { return send(n) })
			if err != nil {
				d.logger.Error("Delivery failed", zap.String("notifier", n.Name()), zap.String("kind", kind), zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
				return
			}
			d.logger.Info("Delivered", zap.String("notifier", n.Name()), zap.String("kind", kind))
		}(i, n)
	}
	wg.Wait()
	return errors.Join(errs...)
}
