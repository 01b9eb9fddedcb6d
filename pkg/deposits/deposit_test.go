package deposits

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositJSONKeepsFullPrecision(t *testing.T) {
	balance, err := uint256.FromDecimal("12345678901234567")
	require.NoError(t, err)
	fetched := time.UnixMilli(1_700_000_000_123)

	d := Deposit{
		ID:               42,
		Token:            common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		RemainingBalance: balance,
		AcceptingIntents: true,
		CategoryKeys:     []common.Hash{common.HexToHash("0x01")},
		KeysLoaded:       true,
		FetchedAt:        fetched,
	}

	bz, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(bz), `"remainingBalance":"12345678901234567"`)
	assert.Contains(t, string(bz), `"fetchedAt":1700000000123`)

	var back Deposit
	require.NoError(t, json.Unmarshal(bz, &back))
	assert.Equal(t, "12345678901234567", back.Balance().Dec())
	assert.Equal(t, d.Token, back.Token)
	assert.True(t, back.FetchedAt.Equal(fetched))
	assert.Equal(t, d.CategoryKeys, back.CategoryKeys)
}

func TestDepositUnmarshalRejectsBadBalance(t *testing.T) {
	var d Deposit
	err := json.Unmarshal([]byte(`{"id":1,"remainingBalance":"12.5"}`), &d)
	require.Error(t, err)
}

func TestDepositFresh(t *testing.T) {
	now := time.Now()
	d := Deposit{FetchedAt: now.Add(-time.Minute)}
	assert.True(t, d.Fresh(now, time.Hour))
	assert.False(t, d.Fresh(now, time.Minute))
	assert.False(t, Deposit{}.Fresh(now, time.Hour))
}

func TestSortIDs(t *testing.T) {
	assert.Equal(t, []ID{1, 3, 7}, SortIDs([]ID{7, 3, 1, 3, 7}))
	assert.Equal(t, []ID{}, SortIDs(nil))
}

func TestTransientFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&TransientFetchError{ID: 9, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fetch deposit 9: timeout", err.Error())
	assert.False(t, IsNotFound(err))
}
