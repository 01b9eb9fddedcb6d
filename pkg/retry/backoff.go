package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config defines retry behavior
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
	// Retryable reports whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultConfig returns settings suited to RPC reads that run once per scan.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// WithBackoff calls fn up to cfg.MaxRetries times, sleeping an exponentially
// growing delay between attempts. Errors cfg.Retryable rejects are returned at once.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	attempts := max(cfg.MaxRetries, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		err := fn()
		switch {
		case err == nil:
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		case cfg.Retryable != nil && !cfg.Retryable(err):
			return err
		case attempt >= attempts:
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
		}

		delay := calculateBackoff(cfg, attempt)
		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// calculateBackoff is InitialDelay*Multiplier^(attempt-1) capped at MaxDelay,
// spread by +-15% when jitter is enabled.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := math.Min(float64(cfg.InitialDelay)*math.Pow(mult, float64(attempt-1)), float64(cfg.MaxDelay))
	if cfg.JitterEnabled {
		delay *= 0.85 + 0.3*rand.Float64()
	}
	return time.Duration(delay)
}
