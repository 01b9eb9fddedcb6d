// Package report aggregates active deposits into per-platform liquidity totals.
package report

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/categories"
	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

// Disclaimer accompanies every report: a deposit accepting several platforms
// is counted in full under each of them.
const Disclaimer = "Liquidity for multiple platforms can be counted twice"

// displayPlaces is the number of fractional digits shown for amounts.
const displayPlaces = 2

// Options configure Build.
type Options struct {
	Asset    common.Address
	Symbol   string
	Decimals int32
	Logger   *zap.Logger
	Now      func() time.Time
}

// Entry is the total of one category.
type Entry struct {
	Name string `json:"name"`
	// Amount is the total in whole asset units rounded to two decimals.
	Amount string `json:"amount"`
	// Total is the exact sum in base units.
	Total string `json:"total"`

	display decimal.Decimal
}

// Report is the structured liquidity report; renderers shape it for a target.
type Report struct {
	Asset          string        `json:"asset"`
	Symbol         string        `json:"symbol"`
	Entries        []Entry       `json:"entries"`
	Disclaimer     string        `json:"disclaimer"`
	DepositIDs     []deposits.ID `json:"depositIds"`
	ActiveDeposits int           `json:"activeDeposits"`
	Count          uint64        `json:"count"`
	GeneratedAt    time.Time     `json:"generatedAt"`
}

// Build sums the balance of every active deposit of the asset into each category
// its keys resolve to. Unknown keys are logged once per deposit and skipped.
func Build(ds []deposits.Deposit, table *categories.Table, opts Options) *Report {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	totals := map[string]*big.Int{}
	ids := make([]deposits.ID, 0)

	for _, d := range ds {
		if d.Token != opts.Asset || !d.Active() {
			continue
		}
		ids = append(ids, d.ID)
		balance := d.Balance().ToBig()

		counted := map[string]bool{}
		warned := map[common.Hash]bool{}
		for _, key := range d.CategoryKeys {
			name, ok := table.Resolve(key)
			if !ok {
				if !warned[key] {
					warned[key] = true
					logger.Warn("Unknown payment method, excluded from totals",
						zap.Uint64("depositId", uint64(d.ID)),
						zap.String("key", key.Hex()))
				}
				continue
			}
			if counted[name] {
				continue
			}
			counted[name] = true
			if totals[name] == nil {
				totals[name] = new(big.Int)
			}
			totals[name].Add(totals[name], balance)
		}
	}

	entries := make([]Entry, 0, len(totals))
	for name, total := range totals {
		display := decimal.NewFromBigInt(total, -opts.Decimals).Round(displayPlaces)
		entries = append(entries, Entry{
			Name:    name,
			Amount:  display.StringFixed(displayPlaces),
			Total:   total.String(),
			display: display,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].display.Cmp(entries[j].display); c != 0 {
			return c > 0
		}
		return entries[i].Name < entries[j].Name
	})

	return &Report{
		Asset:          opts.Asset.Hex(),
		Symbol:         opts.Symbol,
		Entries:        entries,
		Disclaimer:     Disclaimer,
		DepositIDs:     deposits.SortIDs(ids),
		ActiveDeposits: len(ids),
		GeneratedAt:    now().UTC(),
	}
}

// Lookup returns the entry named name.
func (r *Report) Lookup(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Units formats an amount in base units as whole units rounded to two decimals.
func Units(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(v, -decimals).Round(displayPlaces).StringFixed(displayPlaces)
}
