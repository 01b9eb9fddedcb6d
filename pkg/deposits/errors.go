package deposits

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Source for ids with no deposit behind them.
	ErrNotFound = errors.New("deposit not found")
	// ErrSourceUnavailable aborts a scan: the deposit count could not be read.
	ErrSourceUnavailable = errors.New("deposit source unavailable")
	// ErrCorruptCache marks a persisted cache that could not be decoded.
	ErrCorruptCache = errors.New("corrupt cache")
	// ErrScanInProgress is returned when a scan is requested while another one runs.
	ErrScanInProgress = errors.New("scan already in progress")
)

// TransientFetchError wraps a per-deposit failure that is retried on the next scan.
type TransientFetchError struct {
	ID  ID
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch deposit %d: %v", e.ID, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the deposit does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
