package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/detect"
	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/execute"
)

// HedgeHandler opens, lists, and closes hedge units.
type HedgeHandler struct {
	coordinator *execute.Coordinator
	scanner     *detect.Scanner
	store       domain.HedgeStore
	logger      *slog.Logger
}

// NewHedgeHandler creates a HedgeHandler. store may be nil, in which case
// listing falls back to the coordinator's live book only.
func NewHedgeHandler(coordinator *execute.Coordinator, scanner *detect.Scanner, store domain.HedgeStore, logger *slog.Logger) *HedgeHandler {
	return &HedgeHandler{
		coordinator: coordinator,
		scanner:     scanner,
		store:       store,
		logger:      logger,
	}
}

// openRequest selects which opportunity to execute. With only a symbol set,
// the handler picks the best current opportunity for that instrument.
type openRequest struct {
	Symbol        string          `json:"symbol"`
	ExchangeLong  string          `json:"exchange_long"`
	ExchangeShort string          `json:"exchange_short"`
	Size          decimal.Decimal `json:"size"`
}

// Open executes a hedged pair for a detected opportunity.
// POST /api/hedges
func (h *HedgeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	opp, ok := h.findOpportunity(r, req)
	if !ok {
		writeError(w, http.StatusNotFound, "no current opportunity for "+req.Symbol)
		return
	}

	hedge, err := h.coordinator.Execute(r.Context(), opp)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, hedge)
	case errors.Is(err, domain.ErrDuplicateHedge):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrCriticalUnwind):
		// The failed hedge is returned so the operator sees which leg is
		// stranded.
		h.logger.Error("critical unwind via api", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"hedge": hedge,
		})
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// List returns hedge units: the live book plus, when a journal is
// configured, recently recorded units.
// GET /api/hedges
func (h *HedgeHandler) List(w http.ResponseWriter, r *http.Request) {
	open := h.coordinator.Open()

	var recent []domain.Hedge
	if h.store != nil {
		var err error
		recent, err = h.store.ListRecent(r.Context(), queryLimit(r))
		if err != nil {
			h.logger.Warn("hedge journal read failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":   open,
		"recent": recent,
	})
}

// Close flattens both legs of an open hedge.
// DELETE /api/hedges/{id}
func (h *HedgeHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "hedge id is required")
		return
	}

	err := h.coordinator.Close(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no open hedge "+id)
	case errors.Is(err, domain.ErrCriticalUnwind):
		h.logger.Error("critical unwind via api", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *HedgeHandler) findOpportunity(r *http.Request, req openRequest) (domain.ArbitrageOpportunity, bool) {
	for _, opp := range h.scanner.Latest(r.Context()) {
		if opp.Canonical != req.Symbol {
			continue
		}
		if req.ExchangeLong != "" && opp.ExchangeLong != req.ExchangeLong {
			continue
		}
		if req.ExchangeShort != "" && opp.ExchangeShort != req.ExchangeShort {
			continue
		}
		return opp, true
	}
	return domain.ArbitrageOpportunity{}, false
}
