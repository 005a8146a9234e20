package server

import (
	"context"
	"net/http"
	"time"

	"github.com/raptscallions/storage/internal/requestctx"
	"github.com/raptscallions/storage/internal/storage"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Backend   string       `json:"backend"`
	Latency   string       `json:"latency,omitempty"`
	Message   string       `json:"message,omitempty"`
	Uptime    string       `json:"uptime"`
	Timestamp string       `json:"timestamp"`
}

var startTime = time.Now()

const (
	healthCheckTimeout = 5 * time.Second
	healthCheckKey     = ".health-check"
)

type HealthHandlers struct {
	backendName string
	backend     storage.Backend
}

func NewHealthHandlers(backendName string, backend storage.Backend) *HealthHandlers {
	return &HealthHandlers{backendName: backendName, backend: backend}
}

// Health checks the backend with an existence check on a fixed key.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	start := time.Now()
	_, err := h.backend.Exists(ctx, healthCheckKey)
	latency := time.Since(start)

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Backend:   h.backendName,
		Latency:   latency.String(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if err != nil {
		logger := requestctx.Logger(r.Context())
		logger.Warn().Err(err).Str("backend", h.backendName).Msg("Health check failed")

		resp.Status = HealthStatusUnhealthy
		resp.Message = "backend check failed"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
