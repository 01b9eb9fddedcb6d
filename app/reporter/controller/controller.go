package controller

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/zkp2p/slack-liquidity-bot/app/reporter/types"
)

type Controller struct {
	App           *types.App
	AdminToken    string
	JWTSecret     []byte
	SigningSecret string
	// HTTPClient answers slash commands through their response_url.
	HTTPClient *http.Client

	now func() time.Time
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App:           app,
		AdminToken:    app.Config.AdminToken,
		JWTSecret:     []byte(app.Config.SessionSecret),
		SigningSecret: app.Config.Slack.SigningSecret,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/readyz", http.HandlerFunc(c.HandleReady)).Methods(http.MethodGet)

	r.HandleFunc("/report", c.HandleReport).Methods(http.MethodGet)
	r.HandleFunc("/report/history", c.HandleReportHistory).Methods(http.MethodGet)
	r.Handle("/scan", c.RequireAdmin(http.HandlerFunc(c.HandleScan))).Methods(http.MethodPost)
	r.HandleFunc("/holdings", c.HandleHoldings).Methods(http.MethodGet)

	// Slack slash command (/liquidity); authenticated by the request signature
	r.HandleFunc("/slack/commands", c.HandleSlackCommand).Methods(http.MethodPost)

	// WebSocket endpoint for published reports
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
