package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/levmarch/fundarb/internal/detect"
)

// ArbitrageHandler serves the latest ranked opportunity list.
type ArbitrageHandler struct {
	scanner *detect.Scanner
	logger  *slog.Logger
}

// NewArbitrageHandler creates an ArbitrageHandler over the scan pipeline.
func NewArbitrageHandler(scanner *detect.Scanner, logger *slog.Logger) *ArbitrageHandler {
	return &ArbitrageHandler{scanner: scanner, logger: logger}
}

// List returns the most recent completed scan, ranked by score. It never
// triggers a fresh aggregation cycle; pollers read cached results.
// GET /api/arbitrage
func (h *ArbitrageHandler) List(w http.ResponseWriter, r *http.Request) {
	opps := h.scanner.Latest(r.Context())

	limit := queryLimit(r)
	if len(opps) > limit {
		opps = opps[:limit]
	}

	scannedAt := h.scanner.LastScannedAt()
	var scanned *string
	if !scannedAt.IsZero() {
		s := scannedAt.UTC().Format(time.RFC3339)
		scanned = &s
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"count":         len(opps),
		"scanned_at":    scanned,
	})
}
