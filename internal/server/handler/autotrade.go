package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/levmarch/fundarb/internal/scheduler"
)

// AutoTradeHandler exposes the scheduler's runtime toggle.
type AutoTradeHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewAutoTradeHandler creates an AutoTradeHandler.
func NewAutoTradeHandler(s *scheduler.Scheduler, logger *slog.Logger) *AutoTradeHandler {
	return &AutoTradeHandler{scheduler: s, logger: logger}
}

// Status reports whether auto-trading is armed.
// GET /api/autotrade
func (h *AutoTradeHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.scheduler.Enabled()})
}

// Update arms or disarms the auto-trade loop.
// PUT /api/autotrade
func (h *AutoTradeHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}

	if *req.Enabled {
		h.scheduler.Enable()
	} else {
		h.scheduler.Disable()
	}
	h.logger.Info("auto-trade toggled via api", slog.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.scheduler.Enabled()})
}
