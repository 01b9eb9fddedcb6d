package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports ready once a report exists and redis, when configured, answers.
func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}

	if c.App.Reporter.Latest() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting", "error": "no report generated yet"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
