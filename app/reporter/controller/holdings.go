package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
)

// HoldingsResponse is the asset balance of one address.
type HoldingsResponse struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	// Balance in base units.
	Balance string `json:"balance"`
	// Amount in whole units.
	Amount string `json:"amount"`
}

// HandleHoldings returns the asset balance of ?address= or MONITORED_ADDRESS.
func (c *Controller) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		raw = c.App.Config.MonitoredAddress
	}
	if raw == "" {
		writeError(w, http.StatusNotFound, "no monitored address configured")
		return
	}
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	owner := common.HexToAddress(raw)

	balance, err := c.App.Holdings.BalanceOf(r.Context(), owner)
	if err != nil {
		c.App.Logger.Error("Failed to read balance", zap.String("address", owner.Hex()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, HoldingsResponse{
		Address: owner.Hex(),
		Symbol:  c.App.Config.AssetSymbol,
		Balance: balance.Dec(),
		Amount:  report.FormatAmount(report.Units(balance.ToBig(), c.App.Config.AssetDecimals)),
	})
}
