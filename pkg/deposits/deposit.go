// Package deposits holds the escrow deposit model shared by the scan engine,
// the cache and the report formatter.
package deposits

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ID is the sequential identifier the escrow assigns to a deposit, 0 <= id < count.
type ID uint64

// Deposit is a fixed-shape snapshot of one escrow deposit.
type Deposit struct {
	ID               ID
	Token            common.Address
	RemainingBalance *uint256.Int
	AcceptingIntents bool
	// CategoryKeys are the payment-method hashes of the deposit. They are only
	// fetched for deposits that can contribute to a report; KeysLoaded tells an
	// empty set apart from one that was never requested.
	CategoryKeys []common.Hash
	KeysLoaded   bool
	FetchedAt    time.Time
}

// Balance never returns nil.
func (d Deposit) Balance() *uint256.Int {
	if d.RemainingBalance == nil {
		return new(uint256.Int)
	}
	return d.RemainingBalance
}

// Active reports whether the deposit belongs in the active set.
func (d Deposit) Active() bool { return d.AcceptingIntents }

// Fresh reports whether a snapshot fetched at FetchedAt may still be trusted at now.
func (d Deposit) Fresh(now time.Time, ttl time.Duration) bool {
	if d.FetchedAt.IsZero() || ttl <= 0 {
		return false
	}
	return now.Sub(d.FetchedAt) < ttl
}

type depositJSON struct {
	ID               ID            `json:"id"`
	Token            string        `json:"token"`
	RemainingBalance string        `json:"remainingBalance"`
	AcceptingIntents bool          `json:"acceptingIntents"`
	CategoryKeys     []common.Hash `json:"categoryKeys"`
	KeysLoaded       bool          `json:"keysLoaded"`
	FetchedAt        int64         `json:"fetchedAt"`
}

// MarshalJSON writes the balance as a decimal string and fetchedAt as epoch millis.
func (d Deposit) MarshalJSON() ([]byte, error) {
	keys := d.CategoryKeys
	if keys == nil {
		keys = []common.Hash{}
	}
	var fetchedAt int64
	if !d.FetchedAt.IsZero() {
		fetchedAt = d.FetchedAt.UnixMilli()
	}
	return json.Marshal(&depositJSON{
		ID:               d.ID,
		Token:            d.Token.Hex(),
		RemainingBalance: d.Balance().Dec(),
		AcceptingIntents: d.AcceptingIntents,
		CategoryKeys:     keys,
		KeysLoaded:       d.KeysLoaded,
		FetchedAt:        fetchedAt,
	})
}

func (d *Deposit) UnmarshalJSON(data []byte) error {
	var aux depositJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Token != "" && !common.IsHexAddress(aux.Token) {
		return fmt.Errorf("invalid token address %q", aux.Token)
	}

	d.ID = aux.ID
	d.Token = common.HexToAddress(aux.Token)
	d.AcceptingIntents = aux.AcceptingIntents
	d.CategoryKeys = aux.CategoryKeys
	d.KeysLoaded = aux.KeysLoaded
	d.FetchedAt = time.Time{}
	if aux.FetchedAt > 0 {
		d.FetchedAt = time.UnixMilli(aux.FetchedAt)
	}

	if aux.RemainingBalance == "" {
		d.RemainingBalance = uint256.NewInt(0)
		return nil
	}
	balance, err := uint256.FromDecimal(aux.RemainingBalance)
	if err != nil {
		return fmt.Errorf("invalid balance format: %w", err)
	}
	d.RemainingBalance = balance
	return nil
}

// SortIDs sorts ids ascending and removes duplicates in place.
func SortIDs(ids []ID) []ID {
	if len(ids) == 0 {
		return []ID{}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
