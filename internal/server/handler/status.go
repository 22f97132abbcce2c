package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// StatusFunc reports the running process.
type StatusFunc func(ctx context.Context) (domain.SystemStatus, error)

// StatusHandler serves the process status for the dashboard.
type StatusHandler struct {
	status StatusFunc
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusFunc, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// GetStatus responds with mode, uptime and bot counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
