package handlers

import (
	"context"
	"net/http"

	"github.com/garvis/router/internal/observability"
	"github.com/garvis/router/models"
	"github.com/garvis/router/utils"
	"go.uber.org/zap"
)

// HealthProber produces a fresh fleet snapshot
type HealthProber interface {
	Probe(ctx context.Context) models.HealthSnapshot
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	prober            HealthProber
	degradedIsFailure bool
	logger            *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. With degradedIsFailure a
// partially available fleet answers 503 instead of 200.
func NewHealthHandler(prober HealthProber, degradedIsFailure bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		prober:            prober,
		degradedIsFailure: degradedIsFailure,
		logger:            logger,
	}
}

// HandleHealth handles GET /health. All endpoints up is 200 "ok"; some up is
// "degraded"; none up is 503 "down".
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.prober.Probe(r.Context())

	status := http.StatusOK
	switch {
	case !snapshot.AnyOK:
		snapshot.Status = models.HealthDown
		status = http.StatusServiceUnavailable
		observability.LoggerFrom(r.Context(), h.logger).Error("no inference endpoint is reachable", zap.Strings("down", snapshot.Down()))
	case !snapshot.AllOK && h.degradedIsFailure:
		status = http.StatusServiceUnavailable
	}

	_ = utils.WriteJSON(w, status, snapshot)
}

// HandleLiveness handles GET /healthz. It only says the process is serving.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
