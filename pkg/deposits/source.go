package deposits

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Result is the outcome of fetching one deposit inside a batch call.
type Result struct {
	ID      ID
	Deposit Deposit
	Err     error
}

// Source is the ledger-facing side of the scan engine.
type Source interface {
	// Count returns the number of deposits ever created.
	Count(ctx context.Context) (uint64, error)
	// GetDeposit returns ErrNotFound for an id the escrow does not know.
	GetDeposit(ctx context.Context, id ID) (Deposit, error)
	// GetDeposits fetches many deposits in one round trip. Per-id failures are
	// reported in Result.Err; the returned error means the whole call failed.
	GetDeposits(ctx context.Context, ids []ID) ([]Result, error)
	// GetCategoryKeys returns the payment-method hashes attached to a deposit.
	GetCategoryKeys(ctx context.Context, id ID) ([]common.Hash, error)
}
