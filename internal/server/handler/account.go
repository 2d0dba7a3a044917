package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

// AccountHandler serves per-venue balances and live positions.
type AccountHandler struct {
	adapters map[string]exchange.Adapter
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler over the configured adapters.
func NewAccountHandler(adapters map[string]exchange.Adapter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{adapters: adapters, logger: logger}
}

// Balances queries each venue concurrently and returns equity per venue.
// Venues that fail are reported with an error string instead of a silent
// zero.
// GET /api/balances
func (h *AccountHandler) Balances(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Exchange string `json:"exchange"`
		Equity   string `json:"equity,omitempty"`
		Error    string `json:"error,omitempty"`
	}

	results := make([]entry, 0, len(h.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, adapter := range h.adapters {
		wg.Add(1)
		go func(name string, adapter exchange.Adapter) {
			defer wg.Done()
			e := entry{Exchange: name}
			balance, err := adapter.Balance(r.Context())
			if err != nil {
				e.Error = err.Error()
			} else {
				e.Equity = balance.String()
			}
			mu.Lock()
			results = append(results, e)
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Exchange < results[j].Exchange })
	writeJSON(w, http.StatusOK, map[string]any{"balances": results})
}

// Positions queries each venue concurrently and returns live positions per
// venue.
// GET /api/positions
func (h *AccountHandler) Positions(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Exchange  string                         `json:"exchange"`
		Positions map[string]domain.PositionInfo `json:"positions,omitempty"`
		Error     string                         `json:"error,omitempty"`
	}

	results := make([]entry, 0, len(h.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, adapter := range h.adapters {
		wg.Add(1)
		go func(name string, adapter exchange.Adapter) {
			defer wg.Done()
			e := entry{Exchange: name}
			positions, err := adapter.OpenPositions(r.Context())
			if err != nil {
				e.Error = err.Error()
			} else {
				e.Positions = positions
			}
			mu.Lock()
			results = append(results, e)
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Exchange < results[j].Exchange })
	writeJSON(w, http.StatusOK, map[string]any{"positions": results})
}
