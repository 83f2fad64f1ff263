package httpserver

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB     pinger
	Logger requestLogger
}

type healthResponse struct {
	Status    string `json:"status"`
	DB        string `json:"db"`
	LatencyMS int64  `json:"latency_ms"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.DB.Ping(ctx); err != nil {
		if h.Logger != nil {
			h.Logger.Error("health check failed", "error", err)
		}
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "database unreachable")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		DB:        "ok",
		LatencyMS: time.Since(start).Milliseconds(),
	})
}
