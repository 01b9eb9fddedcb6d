package reporterapp

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/app/reporter/controller"
	"github.com/zkp2p/slack-liquidity-bot/app/reporter/types"
)

// NewServer creates the HTTP server for app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := app.Config.Addr

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
