// Package approval implements the delayed-execution order-approval engine.
//
// It detects orders a human trader places manually, holds them pending, and
// at one fixed instant within every bar re-evaluates the near-term trend to
// approve, hold, or cancel each pending order. Three independently-timed
// drivers share the pending table: the scan driver discovers new user orders,
// the decision driver judges them at the configured second of the bar period,
// and the expiry sweep removes orders held too long.
//
// All table mutations happen in short critical sections; gateway calls never
// hold the lock and carry the standard 10-second budget.
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kenwu020902/MT5-SDS/internal/logger"
	"github.com/kenwu020902/MT5-SDS/internal/metrics"
	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// Config holds the approval engine settings. Read-only after startup.
type Config struct {
	Symbol string

	ScanInterval    time.Duration // user-order scan cadence
	CleanupInterval time.Duration // expiry sweep cadence
	DecisionSecond  int           // second-of-period the decision driver fires at
	PeriodSeconds   int           // bar period length
	MaxOrderHold    time.Duration // pending lifetime before expiry

	AutoPause  bool // advisory pause of newly detected orders
	AutoCancel bool // cancel instead of holding unapproved orders

	PriceTolerance       float64
	NeutralBuyAdvantage  float64
	NeutralSellAdvantage float64
	Thresholds           Thresholds

	PriceWindowSize int           // opening prices feeding the prediction
	CallTimeout     time.Duration // budget per gateway call
}

func (c Config) withDefaults() Config {
	if c.ScanInterval == 0 {
		c.ScanInterval = 3 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 10 * time.Second
	}
	if c.PeriodSeconds == 0 {
		c.PeriodSeconds = 60
	}
	if c.MaxOrderHold == 0 {
		c.MaxOrderHold = 5 * time.Minute
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.PriceWindowSize == 0 {
		c.PriceWindowSize = 10
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Status is a point-in-time view of the engine for logging and health.
type Status struct {
	Pending        int       `json:"pending"`
	Active         int       `json:"active"`
	LastCandleTime time.Time `json:"last_candle_time"`
}

// Engine owns the pending-order table and the active-order set. Both are
// mutated only from the engine's own drivers; external callers only supply
// new bars.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	market  model.MarketData
	orders  model.OrderMutator
	journal model.DecisionJournal
	prom    *metrics.Metrics

	mu           sync.Mutex
	pending      map[int64]*model.PendingUserOrder
	active       map[int64]model.OrderInfo
	prices       *priceWindow
	lastCandle   time.Time
	evaluatedBar time.Time // per-bar guard: decision ran for this bar already
}

// New creates an approval engine. journal and prom may be nil.
func New(cfg Config, market model.MarketData, orders model.OrderMutator,
	journal model.DecisionJournal, prom *metrics.Metrics, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		log:     log.With(slog.String("component", "approval")),
		market:  market,
		orders:  orders,
		journal: journal,
		prom:    prom,
		pending: make(map[int64]*model.PendingUserOrder),
		active:  make(map[int64]model.OrderInfo),
		prices:  newPriceWindow(cfg.PriceWindowSize),
	}
}

// OnCandle records a new bar: its open feeds the prediction window and its
// timestamp resets the per-bar decision guard. Malformed bars are rejected
// before they can skew the prediction.
func (e *Engine) OnCandle(c model.Candle) {
	if err := c.Validate(time.Now().UTC()); err != nil {
		e.log.Warn("rejecting malformed candle", slog.Any("error", err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !c.TS.After(e.lastCandle) {
		return
	}
	e.lastCandle = c.TS
	e.prices.push(c.Open)
}

// Status returns current table sizes.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Pending:        len(e.pending),
		Active:         len(e.active),
		LastCandleTime: e.lastCandle,
	}
}

// Run drives the scan, decision, and expiry timers until ctx is cancelled.
// In-flight gateway calls complete or time out before Run returns.
func (e *Engine) Run(ctx context.Context) {
	scan := time.NewTicker(e.cfg.ScanInterval)
	defer scan.Stop()
	second := time.NewTicker(time.Second)
	defer second.Stop()
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	e.log.Info("user order monitoring started",
		slog.String("symbol", e.cfg.Symbol),
		slog.Int("decision_second", e.cfg.DecisionSecond),
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Duration("max_hold", e.cfg.MaxOrderHold))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("user order monitoring stopped")
			return
		case <-scan.C:
			e.scanOnce(ctx)
		case <-second.C:
			e.maybeDecide(ctx, time.Now().UTC())
		case <-cleanup.C:
			e.sweepExpired(ctx, time.Now().UTC())
		}
	}
}

// scanOnce fetches outstanding orders and registers unseen user orders as
// pending.
func (e *Engine) scanOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	orders, err := e.market.PendingOrders(callCtx, e.cfg.Symbol)
	cancel()
	if err != nil {
		e.log.Warn("order scan failed", slog.Any("error", err))
		if e.prom != nil {
			e.prom.CollaboratorErrors.WithLabelValues("pending_orders").Inc()
		}
		return
	}

	now := time.Now().UTC()
	var toPause []model.OrderInfo

	e.mu.Lock()
	for _, o := range orders {
		o := o
		if !e.isNewUserOrder(&o) {
			continue
		}
		e.pending[o.Ticket] = &model.PendingUserOrder{
			Order:      o,
			DetectedAt: now,
			CandleTime: e.lastCandle,
		}
		e.log.Info("detected user order",
			slog.Int64("ticket", o.Ticket),
			slog.String("type", string(o.Type)),
			slog.Float64("volume", o.Volume),
			slog.Float64("price", o.Price))
		if e.prom != nil {
			e.prom.OrdersDetected.Inc()
		}
		if e.cfg.AutoPause {
			toPause = append(toPause, o)
		}
	}
	pendingCount := len(e.pending)
	e.mu.Unlock()

	if e.prom != nil {
		e.prom.PendingOrders.Set(float64(pendingCount))
	}

	// Advisory only: pause failures do not change local state
	for _, o := range toPause {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		if ok, err := e.orders.ModifyOrder(callCtx, o, model.CommentPaused); err != nil || !ok {
			e.log.Warn("advisory pause failed", slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		}
		cancel()
	}
}

// isNewUserOrder reports an order worth tracking. Caller holds e.mu.
func (e *Engine) isNewUserOrder(o *model.OrderInfo) bool {
	if o.IsSystemTagged() {
		return false
	}
	if o.Symbol != e.cfg.Symbol {
		return false
	}
	if _, tracked := e.pending[o.Ticket]; tracked {
		return false
	}
	if _, live := e.active[o.Ticket]; live {
		return false
	}
	return true
}

// maybeDecide fires the decision cycle when the configured second of the bar
// period is reached and this bar has not been evaluated yet. Scheduler jitter
// makes the trigger late sometimes; the elapsed-seconds comparison tolerates
// that, and the per-bar guard keeps evaluation at most once per bar.
func (e *Engine) maybeDecide(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if e.lastCandle.IsZero() || e.evaluatedBar.Equal(e.lastCandle) {
		e.mu.Unlock()
		return
	}
	elapsed := int(now.Sub(e.lastCandle).Seconds()) % e.cfg.PeriodSeconds
	if elapsed < e.cfg.DecisionSecond {
		e.mu.Unlock()
		return
	}
	e.evaluatedBar = e.lastCandle
	bar := e.lastCandle
	empty := len(e.pending) == 0
	e.mu.Unlock()

	if empty {
		return
	}
	// One cycle ID per evaluated bar ties the cycle's logs and journal
	// records together.
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(e.cfg.Symbol, bar))
	e.decideOnce(ctx, now)
}

// cycleLog returns the engine logger annotated with the decision-cycle ID
// carried by ctx, when present.
func (e *Engine) cycleLog(ctx context.Context) *slog.Logger {
	if args := logger.LogWithCycle(ctx); len(args) > 0 {
		return e.log.With(args...)
	}
	return e.log
}

// decideOnce runs one full decision cycle over the pending table.
func (e *Engine) decideOnce(ctx context.Context, now time.Time) {
	started := time.Now()
	log := e.cycleLog(ctx)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	price, err := e.market.CurrentPrice(callCtx, e.cfg.Symbol)
	cancel()
	if err != nil {
		// Abandon the cycle: orders stay pending until the next bar
		log.Warn("price fetch failed, keeping orders pending", slog.Any("error", err))
		if e.prom != nil {
			e.prom.CollaboratorErrors.WithLabelValues("current_price").Inc()
		}
		return
	}

	e.mu.Lock()
	avg, ok := e.prices.average()
	snapshot := make([]model.PendingUserOrder, 0, len(e.pending))
	for _, p := range e.pending {
		snapshot = append(snapshot, *p)
	}
	e.mu.Unlock()

	if !ok {
		avg = price
	}
	change := percentChange(price, avg)
	class := Classify(change, e.cfg.Thresholds)
	log.Info("decision cycle",
		slog.Float64("price", price),
		slog.Float64("avg_open", avg),
		slog.Float64("percent_change", change),
		slog.String("classification", string(class)),
		slog.Int("pending", len(snapshot)))
	if e.prom != nil {
		e.prom.Classifications.WithLabelValues(string(class)).Inc()
	}

	for i := range snapshot {
		e.judge(ctx, &snapshot[i], class, price)
	}

	e.mu.Lock()
	pendingCount, activeCount := len(e.pending), len(e.active)
	e.mu.Unlock()
	if e.prom != nil {
		e.prom.PendingOrders.Set(float64(pendingCount))
		e.prom.ActiveOrders.Set(float64(activeCount))
		e.prom.DecisionCycleDur.Observe(time.Since(started).Seconds())
	}
}

// judge approves, cancels, or holds one pending order.
func (e *Engine) judge(ctx context.Context, p *model.PendingUserOrder, class Classification, price float64) {
	o := p.Order
	if shouldExecute(&o, class, price, e.cfg) {
		e.approve(ctx, o, class)
		return
	}
	if e.cfg.AutoCancel {
		e.cancel(ctx, o, class)
		return
	}
	e.cycleLog(ctx).Info("holding order for next cycle",
		slog.Int64("ticket", o.Ticket), slog.String("classification", string(class)))
	if e.prom != nil {
		e.prom.OrdersHeld.Inc()
	}
	if e.journal != nil {
		e.journal.RecordOrderOutcome(ctx, o, "HELD", string(class))
	}
}

// shouldExecute encodes the approval matrix from the trend classification.
func shouldExecute(o *model.OrderInfo, class Classification, price float64, cfg Config) bool {
	switch class {
	case StrongBullish:
		return o.Type.IsBuySide()
	case Bullish:
		if !o.Type.IsBuySide() {
			return false
		}
		return price-o.Price <= cfg.PriceTolerance
	case StrongBearish:
		return o.Type.IsSellSide()
	case Bearish:
		if !o.Type.IsSellSide() {
			return false
		}
		return o.Price-price <= cfg.PriceTolerance
	case Neutral:
		// Ranging market: only orders with a clear price advantage
		if o.Type.IsBuySide() {
			return o.Price < price-cfg.NeutralBuyAdvantage
		}
		return o.Price > price+cfg.NeutralSellAdvantage
	default:
		return false
	}
}

// approve promotes one pending order to active via the gateway. A failed or
// timed-out execution leaves the order pending for the next cycle.
func (e *Engine) approve(ctx context.Context, o model.OrderInfo, class Classification) {
	comment := model.CommentApproved + "_" + string(class)
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	ok, err := e.orders.ExecuteOrder(callCtx, o, comment)
	cancel()
	if err != nil || !ok {
		e.cycleLog(ctx).Error("order execution failed, order stays pending",
			slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		if e.prom != nil {
			e.prom.CollaboratorErrors.WithLabelValues("execute_order").Inc()
		}
		return
	}

	e.mu.Lock()
	if p, tracked := e.pending[o.Ticket]; tracked {
		p.Approved = true
		delete(e.pending, o.Ticket)
		e.active[o.Ticket] = o
	}
	e.mu.Unlock()

	e.cycleLog(ctx).Info("approved user order",
		slog.Int64("ticket", o.Ticket), slog.String("classification", string(class)))
	if e.prom != nil {
		e.prom.OrdersApproved.Inc()
	}
	if e.journal != nil {
		e.journal.RecordOrderOutcome(ctx, o, "APPROVED", string(class))
	}
}

// cancel withdraws one pending order. A failed cancel leaves it pending.
func (e *Engine) cancel(ctx context.Context, o model.OrderInfo, class Classification) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	ok, err := e.orders.CancelOrder(callCtx, o.Ticket, model.CommentCancelled)
	cancel()
	if err != nil || !ok {
		e.cycleLog(ctx).Error("order cancel failed, order stays pending",
			slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		if e.prom != nil {
			e.prom.CollaboratorErrors.WithLabelValues("cancel_order").Inc()
		}
		return
	}

	e.mu.Lock()
	delete(e.pending, o.Ticket)
	e.mu.Unlock()

	e.cycleLog(ctx).Info("cancelled user order against trend",
		slog.Int64("ticket", o.Ticket), slog.String("classification", string(class)))
	if e.prom != nil {
		e.prom.OrdersCancelled.Inc()
	}
	if e.journal != nil {
		e.journal.RecordOrderOutcome(ctx, o, "CANCELLED", string(class))
	}
}

// sweepExpired removes orders held past MaxOrderHold without a decision.
// Cancellation is requested first: forgetting an order the exchange still
// holds open would defeat the monitoring. A failed cancel is logged and the
// order is forgotten regardless.
func (e *Engine) sweepExpired(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var expired []model.OrderInfo
	for ticket, p := range e.pending {
		if p.DetectedAt.Add(e.cfg.MaxOrderHold).Before(now) {
			expired = append(expired, p.Order)
			delete(e.pending, ticket)
		}
	}
	pendingCount := len(e.pending)
	e.mu.Unlock()

	for _, o := range expired {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		if ok, err := e.orders.CancelOrder(callCtx, o.Ticket, model.CommentExpired); err != nil || !ok {
			e.log.Warn("expiry cancel failed, forgetting order anyway",
				slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		}
		cancel()

		e.log.Info("expired pending order", slog.Int64("ticket", o.Ticket))
		if e.prom != nil {
			e.prom.OrdersExpired.Inc()
		}
		if e.journal != nil {
			e.journal.RecordOrderOutcome(ctx, o, "EXPIRED", "")
		}
	}
	if e.prom != nil {
		e.prom.PendingOrders.Set(float64(pendingCount))
	}
}
