package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/service"
)

// BotService defines the methods that the bot handler requires from the
// service layer.
type BotService interface {
	Create(ctx context.Context, b domain.Bot) (domain.Bot, error)
	Update(ctx context.Context, id int64, cfg domain.Bot) (domain.Bot, error)
	Toggle(ctx context.Context, id int64) (domain.Bot, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (domain.Bot, error)
	List(ctx context.Context) ([]domain.Bot, error)
	State(ctx context.Context, id int64) (service.BotView, error)
	Prices(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.PriceObservation, error)
	RecentPrices(ctx context.Context, id int64, depth int) ([]domain.PriceObservation, error)
	Trades(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.SwapEvent, error)
	Logs(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.AuditEntry, error)
	CancelTrade(ctx context.Context, id int64) (string, error)
}

// BotHandler serves the bot CRUD and history endpoints.
type BotHandler struct {
	bots   BotService
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler with the given service and logger.
func NewBotHandler(bots BotService, logger *slog.Logger) *BotHandler {
	return &BotHandler{bots: bots, logger: logger}
}

// ListBots returns every bot.
// GET /api/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list bots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": toBotsJSON(bots)})
}

// CreateBot creates a bot from a JSON body.
// POST /api/bots
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check_interval: "+err.Error())
		return
	}
	created, err := h.bots.Create(r.Context(), b)
	if err != nil {
		writeServiceError(w, r, h.logger, "create bot", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/bots/%d", created.ID))
	writeJSON(w, http.StatusCreated, toBotJSON(created))
}

// GetBot returns one bot.
// GET /api/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.bots.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get bot", err)
		return
	}
	writeJSON(w, http.StatusOK, toBotJSON(b))
}

// UpdateBot replaces a bot's configuration. Runtime state is kept.
// PUT /api/bots/{id}
func (h *BotHandler) UpdateBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req botRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid check_interval: "+err.Error())
		return
	}
	updated, err := h.bots.Update(r.Context(), id, b)
	if err != nil {
		writeServiceError(w, r, h.logger, "update bot", err)
		return
	}
	writeJSON(w, http.StatusOK, toBotJSON(updated))
}

// DeleteBot removes a bot and its history.
// DELETE /api/bots/{id}
func (h *BotHandler) DeleteBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.bots.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete bot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleBot flips the enabled flag.
// POST /api/bots/{id}/toggle
func (h *BotHandler) ToggleBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.bots.Toggle(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "toggle bot", err)
		return
	}
	writeJSON(w, http.StatusOK, toBotJSON(b))
}

// GetState returns the bot with its per-asset snapshots and pending swap.
// GET /api/bots/{id}/state
func (h *BotHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.bots.State(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "bot state", err)
		return
	}
	writeJSON(w, http.StatusOK, toStateJSON(v))
}

// maxRecentDepth bounds the recent query parameter.
const maxRecentDepth = 100

// ListPrices returns recorded observations, newest first. With recent=N it
// returns the latest N observations of each asset instead.
// GET /api/bots/{id}/prices?asset=BTC&from=...&to=...&limit=50
// GET /api/bots/{id}/prices?recent=5
func (h *BotHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		obs []domain.PriceObservation
		err error
	)
	if v := r.URL.Query().Get("recent"); v != "" {
		depth, convErr := strconv.Atoi(v)
		if convErr != nil || depth <= 0 || depth > maxRecentDepth {
			writeError(w, http.StatusBadRequest, "recent must be between 1 and 100")
			return
		}
		obs, err = h.bots.RecentPrices(r.Context(), id, depth)
	} else {
		opts, ok := parseListOpts(w, r)
		if !ok {
			return
		}
		opts.Asset = domain.NewAsset(r.URL.Query().Get("asset"))
		obs, err = h.bots.Prices(r.Context(), id, opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list prices", err)
		return
	}
	out := make([]observationJSON, len(obs))
	for i, o := range obs {
		out[i] = observationJSON{Asset: string(o.Asset), Price: o.Price, Source: o.Source, ObservedAt: o.ObservedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

// ListTrades returns swaps, newest first.
// GET /api/bots/{id}/trades?status=pending&limit=50
func (h *BotHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	opts, ok := parseListOpts(w, r)
	if !ok {
		return
	}
	if s := strings.ToLower(r.URL.Query().Get("status")); s != "" {
		if !domain.SwapStatus(s).Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+s)
			return
		}
		opts.Status = s
	}

	swaps, err := h.bots.Trades(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	out := make([]swapJSON, len(swaps))
	for i, s := range swaps {
		out[i] = toSwapJSON(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// ListLogs returns the audit log, newest first.
// GET /api/bots/{id}/logs?level=error&limit=50
func (h *BotHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	opts, ok := parseListOpts(w, r)
	if !ok {
		return
	}
	opts.Status = strings.ToLower(r.URL.Query().Get("level"))

	entries, err := h.bots.Logs(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list logs", err)
		return
	}
	out := make([]auditJSON, len(entries))
	for i, e := range entries {
		out[i] = auditJSON{ID: e.ID, Level: string(e.Level), Event: e.Event, Message: e.Message, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

// CancelTrade requests cancellation of the bot's active trade. The swap is
// settled by the bot's next cycle.
// POST /api/bots/{id}/cancel
func (h *BotHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tradeID, err := h.bots.CancelTrade(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel trade", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"trade_id": tradeID, "status": "cancel_requested"})
}
