package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// StatusHandler serves liveness and quota state
type StatusHandler struct {
	quota     interfaces.QuotaLedger
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(quota interfaces.QuotaLedger, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		quota:     quota,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HealthHandler handles GET /health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": common.GetVersion(),
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// QuotaHandler handles GET /api/quota
func (h *StatusHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	usage, err := h.quota.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read quota")
		WriteError(w, http.StatusInternalServerError, "failed to read quota")
		return
	}
	WriteJSON(w, http.StatusOK, usage)
}
