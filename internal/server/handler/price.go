package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// PriceFetcher fetches live prices through the source chain.
type PriceFetcher interface {
	Fetch(ctx context.Context, symbols []domain.Asset) (domain.PriceMap, string, error)
}

// PriceHandler serves live prices.
type PriceHandler struct {
	prices PriceFetcher
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceFetcher, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// maxSymbols bounds one live price request.
const maxSymbols = 50

// GetPrices returns the USD price of each requested symbol.
// GET /api/prices?symbols=BTC,ETH
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbols := domain.Assets(strings.Split(r.URL.Query().Get("symbols"), ",")...)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter required")
		return
	}
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}
	for _, s := range symbols {
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "invalid symbol: "+string(s))
			return
		}
	}

	prices, source, err := h.prices.Fetch(r.Context(), symbols)
	if err != nil {
		writeServiceError(w, r, h.logger, "fetch prices", err)
		return
	}
	out := make(map[string]float64, len(prices))
	for a, p := range prices {
		out[string(a)] = p
	}
	missing := make([]string, 0)
	for _, a := range prices.Missing(symbols) {
		missing = append(missing, string(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prices":  out,
		"source":  source,
		"missing": missing,
	})
}
