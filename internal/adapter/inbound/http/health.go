package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Transport string `json:"transport"`
}

// healthHandler answers 200 unconditionally, without authentication. The
// gate exempts this path from rate limiting so orchestrator probes can
// never be starved out by client traffic.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Transport: "streamable-http",
		})
	})
}
