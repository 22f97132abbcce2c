package rebalance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeLocked           Outcome = "locked"
	OutcomeDisabled         Outcome = "disabled"
	OutcomeNotDue           Outcome = "not_due"
	OutcomeAwaitingTrade    Outcome = "awaiting_trade"
	OutcomeSettled          Outcome = "settled"
	OutcomeInitialized      Outcome = "initialized"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeNoSwap           Outcome = "no_swap"
	OutcomeSwapCreated      Outcome = "swap_created"
	OutcomeTradeFailed      Outcome = "trade_failed"
	OutcomeError            Outcome = "error"
)

// PriceFeed fetches prices for a cycle, separating live answers from cached
// fill-ins.
type PriceFeed interface {
	Quote(ctx context.Context, symbols []domain.Asset) (domain.PriceQuote, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string)
}

// Recorder receives cycle metrics.
type Recorder interface {
	ObserveCycle(outcome string, d time.Duration)
	SwapCreated(from, to domain.Asset)
	SwapSettled(status domain.SwapStatus)
}

// Deps are the collaborators of an Engine. Bus, Notifier and Metrics are
// optional.
type Deps struct {
	State    domain.StateStore
	Prices   PriceFeed
	Gateway  domain.TradeGateway
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Notifier Notifier
	Metrics  Recorder
	Estimate UnitEstimator
	Now      func() time.Time
}

// Config tunes an Engine.
type Config struct {
	LockTTL time.Duration
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	BotID   int64
	Outcome Outcome
	Held    domain.Asset
	Peak    float64
	// Equivalent is the held position in reference units this cycle.
	Equivalent float64
	TradeID    string
	Decision   *Decision
	Gaps       []DataGap
}

// Engine runs rebalance cycles, one bot at a time per call.
type Engine struct {
	deps      Deps
	cfg       Config
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locks == nil {
		deps.Locks = NewLocalLocks()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		evaluator: NewEvaluator(deps.Estimate),
		logger:    logger.With(slog.String("component", "rebalance_engine")),
	}
}

// RunCycle runs one cycle for botID under the bot's lock. A bot whose lock is
// held elsewhere is skipped with OutcomeLocked.
func (e *Engine) RunCycle(ctx context.Context, botID int64) (CycleResult, error) {
	start := e.deps.Now()
	log := e.logger.With(slog.Int64("bot_id", botID))

	unlock, err := e.deps.Locks.Acquire(ctx, "bot:"+strconv.FormatInt(botID, 10), e.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		log.Debug("cycle skipped, lock held")
		return CycleResult{BotID: botID, Outcome: OutcomeLocked}, nil
	}
	if err != nil {
		return CycleResult{BotID: botID, Outcome: OutcomeError}, fmt.Errorf("rebalance: lock bot %d: %w", botID, err)
	}
	defer unlock()

	res, err := e.cycle(ctx, botID, log)
	res.BotID = botID
	if err != nil && res.Outcome == "" {
		res.Outcome = OutcomeError
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCycle(string(res.Outcome), e.deps.Now().Sub(start))
	}
	if err == nil && res.Outcome != OutcomeLocked && res.Outcome != OutcomeNotDue && res.Outcome != OutcomeDisabled {
		e.publish(ctx, domain.ChannelBots, domain.CycleNotice{
			BotID: botID, Outcome: string(res.Outcome), Held: res.Held, Peak: res.Peak, At: e.deps.Now(),
		})
	}
	return res, err
}

func (e *Engine) cycle(ctx context.Context, botID int64, log *slog.Logger) (CycleResult, error) {
	st, err := e.deps.State.LoadState(ctx, botID)
	if err != nil {
		return CycleResult{}, fmt.Errorf("rebalance: load bot %d: %w", botID, err)
	}
	bot := st.Bot
	now := e.deps.Now()
	res := CycleResult{Held: bot.CurrentCoin, Peak: bot.GlobalPeakValue}

	if !bot.Enabled {
		res.Outcome = OutcomeDisabled
		return res, nil
	}
	if !bot.Due(now) {
		res.Outcome = OutcomeNotDue
		return res, nil
	}
	if err := bot.Validate(); err != nil {
		return res, err
	}

	commit := domain.CycleCommit{BotID: bot.ID, ExpectedVersion: bot.Version}
	settled := false
	if bot.HasActiveTrade() {
		var done bool
		done, err = e.settle(ctx, &st, &commit, now, log)
		if err != nil {
			return res, err
		}
		if !done {
			res.Outcome = OutcomeAwaitingTrade
			res.TradeID = bot.ActiveTradeID
			return res, nil
		}
		settled = true
		bot = st.Bot
	}

	quote, err := e.deps.Prices.Quote(ctx, bot.Symbols())
	if err != nil {
		if settled {
			// The settlement must not be lost to a price outage.
			commit.Bot = &bot
			if cerr := e.deps.State.CommitState(ctx, commit); cerr != nil {
				return res, fmt.Errorf("rebalance: commit settlement for bot %d: %w", bot.ID, cerr)
			}
			res.Outcome = OutcomeSettled
			res.Held = bot.CurrentCoin
		}
		return res, fmt.Errorf("rebalance: fetch prices for bot %d: %w", bot.ID, err)
	}
	prices := quote.Prices
	// Cached prices carry their own age; only live answers are observations.
	commit.Observations = domain.Observations(bot.ID, quote.Live, quote.LiveSource(), now)
	log.Debug("prices fetched",
		slog.String("source", quote.Source()),
		slog.Int("count", len(prices)),
		slog.Int("cached", len(prices)-len(quote.Live)),
	)

	if !bot.Initialized() {
		return e.initialize(ctx, st, commit, prices, now, log)
	}

	e.trackNewAssets(&st, &commit, prices, now)

	ref := bot.Reference()
	heldSnap, _ := st.Snapshot(bot.CurrentCoin)
	heldPrice, okHeld := prices.Get(bot.CurrentCoin)
	refPrice, okRef := prices.Get(ref)
	if !okHeld || !okRef {
		missing := prices.Missing([]domain.Asset{bot.CurrentCoin, ref})
		log.Warn("insufficient data for cycle", slog.Any("missing", missing))
		bot.LastCheckTime = &now
		commit.Bot = &bot
		res.Outcome = OutcomeInsufficientData
		if settled {
			res.Outcome = OutcomeSettled
		}
		return res, e.commit(ctx, commit, &res, bot)
	}

	// Snapshots are written only on initialise, swap and settlement; a plain
	// evaluation reports the equivalent value without touching them.
	bot.GlobalPeakValue, heldSnap.EquivalentValue = Ratchet(bot.GlobalPeakValue, heldSnap.UnitsHeld, heldPrice, refPrice)
	bot.MinAcceptableValue = bot.Floor(bot.GlobalPeakValue)
	res.Peak = bot.GlobalPeakValue
	res.Equivalent = heldSnap.EquivalentValue

	if settled {
		heldSnap.UpdatedAt = now
		e.putSnapshot(&st, &commit, heldSnap)
		bot.LastCheckTime = &now
		commit.Bot = &bot
		res.Outcome = OutcomeSettled
		return res, e.commit(ctx, commit, &res, bot)
	}

	changes, gaps := CalculateChanges(bot.CurrentCoin, bot.Coins, st.Baseline(), prices)
	res.Gaps = gaps
	for _, g := range gaps {
		log.Warn("candidate skipped", slog.String("asset", string(g.Asset)), slog.String("error", g.Reason.Error()))
	}

	decision := e.evaluator.Evaluate(Input{
		Bot:       bot,
		Held:      bot.CurrentCoin,
		Units:     heldSnap.UnitsHeld,
		Changes:   changes,
		Prices:    prices,
		Snapshots: st.Snapshots,
		Peak:      bot.GlobalPeakValue,
	})
	res.Decision = &decision
	for _, r := range decision.Rejections {
		log.Info("candidate rejected",
			slog.String("asset", string(r.Candidate.Asset)),
			slog.Float64("change", r.Candidate.Change),
			slog.String("error", r.Reason.Error()),
		)
	}

	if decision.Target == nil {
		bot.LastCheckTime = &now
		commit.Bot = &bot
		res.Outcome = OutcomeNoSwap
		if len(changes) == 0 && len(gaps) > 0 {
			res.Outcome = OutcomeInsufficientData
		}
		return res, e.commit(ctx, commit, &res, bot)
	}

	return e.swap(ctx, st, bot, heldSnap, *decision.Target, prices, commit, res, now, log)
}

// settle polls the active trade. It reports done when the trade reached a
// terminal state and the settlement has been folded into st and commit.
func (e *Engine) settle(ctx context.Context, st *domain.BotState, commit *domain.CycleCommit, now time.Time, log *slog.Logger) (bool, error) {
	bot := st.Bot
	state, err := e.deps.Gateway.GetStatus(ctx, bot.ActiveTradeID)
	if err != nil {
		return false, fmt.Errorf("rebalance: poll trade %s for bot %d: %w", bot.ActiveTradeID, bot.ID, err)
	}
	status, terminal := state.Status.SwapStatus()
	if !terminal {
		if state.Status == domain.TradeStatusUnknown {
			log.Warn("trade status unknown", slog.String("trade_id", bot.ActiveTradeID))
		}
		return false, nil
	}

	swap := st.Pending
	if swap == nil {
		return false, fmt.Errorf("rebalance: bot %d active trade %s has no swap record: %w", bot.ID, bot.ActiveTradeID, domain.ErrNotFound)
	}
	commit.SwapUpdate = &domain.SwapUpdate{
		TradeID:     swap.TradeID,
		Status:      status,
		FilledPrice: state.FilledPrice,
		SettledAt:   now,
	}
	settledSwap := *swap
	settledSwap.FilledPrice = state.FilledPrice

	if status == domain.SwapStatusCompleted {
		received := settledSwap.ReceivedUnits(bot.FeeRate)
		target, _ := st.Snapshot(swap.To)
		target.Hold(received)
		target.UpdatedAt = now
		e.putSnapshot(st, commit, target)

		source, _ := st.Snapshot(swap.From)
		source.UnitsHeld = 0
		source.UpdatedAt = now
		e.putSnapshot(st, commit, source)
		bot.CurrentCoin = swap.To
	} else {
		bot.CurrentCoin = swap.From
	}
	bot.ActiveTradeID = ""
	st.Bot = bot
	st.Pending = nil

	level := domain.AuditInfo
	if status != domain.SwapStatusCompleted {
		level = domain.AuditWarning
	}
	commit.Audit = append(commit.Audit, domain.AuditEntry{
		BotID:     bot.ID,
		Level:     level,
		Event:     "swap_" + string(status),
		Message:   fmt.Sprintf("swap %s -> %s %s", swap.From, swap.To, status),
		Detail:    map[string]any{"trade_id": swap.TradeID},
		CreatedAt: now,
	})
	log.Info("trade settled",
		slog.String("trade_id", swap.TradeID),
		slog.String("status", string(status)),
		slog.String("held", string(bot.CurrentCoin)),
	)
	return true, nil
}

func (e *Engine) initialize(ctx context.Context, st domain.BotState, commit domain.CycleCommit, prices domain.PriceMap, now time.Time, log *slog.Logger) (CycleResult, error) {
	bot := st.Bot
	held := bot.InitialCoin
	ref := bot.Reference()
	res := CycleResult{Held: bot.CurrentCoin}

	heldPrice, okHeld := prices.Get(held)
	refPrice, okRef := prices.Get(ref)
	if !okHeld || !okRef {
		log.Warn("cannot initialise bot", slog.Any("missing", prices.Missing([]domain.Asset{held, ref})))
		res.Outcome = OutcomeInsufficientData
		return res, e.commit(ctx, commit, &res, bot)
	}

	units := bot.Units()
	for _, a := range bot.Coins {
		p, ok := prices.Get(a)
		if !ok {
			continue
		}
		snap, exists := st.Snapshot(a)
		if !exists || snap.InitialPrice == 0 {
			snap.InitialPrice = p
			snap.CreatedAt = now
		}
		snap.LastPrice = p
		snap.UpdatedAt = now
		if a == held {
			snap.Hold(units)
			snap.EquivalentValue = units * heldPrice / refPrice
		}
		e.putSnapshot(&st, &commit, snap)
	}

	bot.CurrentCoin = held
	bot.GlobalPeakValue, _ = Ratchet(bot.GlobalPeakValue, units, heldPrice, refPrice)
	bot.MinAcceptableValue = bot.Floor(bot.GlobalPeakValue)
	bot.LastCheckTime = &now
	commit.Bot = &bot
	commit.Audit = append(commit.Audit, domain.AuditEntry{
		BotID:     bot.ID,
		Level:     domain.AuditInfo,
		Event:     "initialized",
		Message:   fmt.Sprintf("holding %v %s", units, held),
		Detail:    map[string]any{"peak": bot.GlobalPeakValue, "reference": string(ref)},
		CreatedAt: now,
	})
	log.Info("bot initialised",
		slog.String("held", string(held)),
		slog.Float64("units", units),
		slog.Float64("peak", bot.GlobalPeakValue),
	)

	res.Outcome = OutcomeInitialized
	res.Held = held
	res.Peak = bot.GlobalPeakValue
	return res, e.commit(ctx, commit, &res, bot)
}

// trackNewAssets creates snapshots for basket members that have none yet,
// so they gain a baseline. Seeded observations take precedence over the
// current price.
func (e *Engine) trackNewAssets(st *domain.BotState, commit *domain.CycleCommit, prices domain.PriceMap, now time.Time) {
	for _, a := range st.Bot.Coins {
		if snap, ok := st.Snapshots[a]; ok && snap.LastPrice > 0 {
			continue
		}
		p, ok := st.Seeds.Get(a)
		if !ok {
			if p, ok = prices.Get(a); !ok {
				continue
			}
		}
		snap, _ := st.Snapshot(a)
		if snap.InitialPrice == 0 {
			snap.InitialPrice = p
			snap.CreatedAt = now
		}
		snap.LastPrice = p
		snap.UpdatedAt = now
		e.putSnapshot(st, commit, snap)
	}
}

func (e *Engine) swap(ctx context.Context, st domain.BotState, bot domain.Bot, heldSnap domain.AssetSnapshot, target Candidate, prices domain.PriceMap, commit domain.CycleCommit, res CycleResult, now time.Time, log *slog.Logger) (CycleResult, error) {
	heldPrice, _ := prices.Get(bot.CurrentCoin)
	req := domain.SwapRequest{
		AccountID: bot.AccountID,
		From:      bot.CurrentCoin,
		To:        target.Asset,
		Quantity:  heldSnap.UnitsHeld,
		FromPrice: heldPrice,
		ToPrice:   target.Price,
	}
	log = log.With(slog.String("from", string(req.From)), slog.String("to", string(req.To)))

	tradeID, err := e.deps.Gateway.CreateSwap(ctx, req)
	if err != nil {
		// Only observations and the peak ratchet are kept; last_check_time
		// stays put so the bot is retried next tick.
		log.Error("swap creation failed", slog.String("error", err.Error()))
		commit.Bot = &bot
		commit.Snapshots = nil
		commit.Audit = append(commit.Audit, domain.AuditEntry{
			BotID:     bot.ID,
			Level:     domain.AuditError,
			Event:     "swap_failed",
			Message:   err.Error(),
			Detail:    map[string]any{"from": string(req.From), "to": string(req.To), "change": target.Change},
			CreatedAt: now,
		})
		res.Outcome = OutcomeTradeFailed
		if cerr := e.commit(ctx, commit, &res, bot); cerr != nil {
			return res, cerr
		}
		e.notify(ctx, "error", "Swap failed", fmt.Sprintf("bot %d: %s -> %s: %v", bot.ID, req.From, req.To, err))
		return res, fmt.Errorf("rebalance: create swap for bot %d: %w", bot.ID, err)
	}

	swap := domain.SwapEvent{
		BotID:          bot.ID,
		TradeID:        tradeID,
		From:           req.From,
		To:             req.To,
		Change:         target.Change,
		Quantity:       req.Quantity,
		EstimatedUnits: target.EstimatedUnits,
		FromPrice:      req.FromPrice,
		ToPrice:        req.ToPrice,
		Status:         domain.SwapStatusPending,
		CreatedAt:      now,
	}
	commit.NewSwap = &swap

	for _, a := range bot.Coins {
		p, ok := prices.Get(a)
		if !ok {
			continue
		}
		snap, _ := st.Snapshot(a)
		if a == bot.CurrentCoin {
			snap.EquivalentValue = heldSnap.EquivalentValue
		}
		snap.LastPrice = p
		snap.UpdatedAt = now
		if snap.InitialPrice == 0 {
			snap.InitialPrice = p
			snap.CreatedAt = now
		}
		e.putSnapshot(&st, &commit, snap)
	}

	bot.ActiveTradeID = tradeID
	bot.CurrentCoin = target.Asset
	bot.LastCheckTime = &now
	commit.Bot = &bot
	commit.Audit = append(commit.Audit, domain.AuditEntry{
		BotID:   bot.ID,
		Level:   domain.AuditInfo,
		Event:   "swap_created",
		Message: fmt.Sprintf("swap %s -> %s on %+.2f%%", req.From, req.To, target.Change*100),
		Detail: map[string]any{
			"trade_id":        tradeID,
			"quantity":        req.Quantity,
			"estimated_units": target.EstimatedUnits,
			"equivalent":      target.Equivalent,
		},
		CreatedAt: now,
	})

	res.Outcome = OutcomeSwapCreated
	res.TradeID = tradeID
	if err := e.commit(ctx, commit, &res, bot); err != nil {
		// The exchange accepted a trade we could not record: withdraw it so
		// the bot never has an untracked trade outstanding.
		log.Error("swap created but not recorded", slog.String("trade_id", tradeID), slog.String("error", err.Error()))
		if cerr := e.deps.Gateway.Cancel(context.WithoutCancel(ctx), tradeID); cerr != nil {
			log.Error("cancel unrecorded swap", slog.String("trade_id", tradeID), slog.String("error", cerr.Error()))
			e.notify(ctx, "error", "Unrecorded swap", fmt.Sprintf("bot %d trade %s left open: %v", bot.ID, tradeID, err))
		} else {
			e.notify(ctx, "error", "Unrecorded swap cancelled", fmt.Sprintf("bot %d trade %s: %v", bot.ID, tradeID, err))
		}
		return res, err
	}

	log.Info("swap created",
		slog.String("trade_id", tradeID),
		slog.Float64("change", target.Change),
		slog.Float64("estimated_units", target.EstimatedUnits),
	)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SwapCreated(req.From, req.To)
	}
	e.publish(ctx, domain.ChannelSwaps, domain.SwapNotice{
		BotID: bot.ID, TradeID: tradeID, From: req.From, To: req.To,
		Status: domain.SwapStatusPending, Change: target.Change, At: now,
	})
	e.notify(ctx, "swap_created", "Swap created",
		fmt.Sprintf("bot %s: %s -> %s (%+.2f%%)", bot.Name, req.From, req.To, target.Change*100))
	return res, nil
}

// commit writes c and, when it carries a settlement, emits the settlement
// events.
func (e *Engine) commit(ctx context.Context, c domain.CycleCommit, res *CycleResult, bot domain.Bot) error {
	if err := e.deps.State.CommitState(ctx, c); err != nil {
		res.Outcome = OutcomeError
		return fmt.Errorf("rebalance: commit bot %d: %w", c.BotID, err)
	}
	res.Held = bot.CurrentCoin
	res.Peak = bot.GlobalPeakValue
	if u := c.SwapUpdate; u != nil {
		if e.deps.Metrics != nil {
			e.deps.Metrics.SwapSettled(u.Status)
		}
		e.publish(ctx, domain.ChannelSwaps, domain.SwapNotice{
			BotID: c.BotID, TradeID: u.TradeID, Status: u.Status, At: u.SettledAt,
		})
		event := "swap_completed"
		if u.Status != domain.SwapStatusCompleted {
			event = "swap_failed"
		}
		e.notify(ctx, event, "Swap "+string(u.Status), fmt.Sprintf("bot %s trade %s %s", bot.Name, u.TradeID, u.Status))
	}
	return nil
}

func (e *Engine) putSnapshot(st *domain.BotState, c *domain.CycleCommit, snap domain.AssetSnapshot) {
	snap.BotID = st.Bot.ID
	if st.Snapshots == nil {
		st.Snapshots = make(map[domain.Asset]domain.AssetSnapshot)
	}
	st.Snapshots[snap.Asset] = snap
	for i := range c.Snapshots {
		if c.Snapshots[i].Asset == snap.Asset {
			c.Snapshots[i] = snap
			return
		}
	}
	c.Snapshots = append(c.Snapshots, snap)
}

func (e *Engine) publish(ctx context.Context, channel string, v any) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, event, title, msg string) {
	if e.deps.Notifier != nil {
		e.deps.Notifier.Notify(ctx, event, title, msg)
	}
}
