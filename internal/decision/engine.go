// Package decision turns the bar stream into sized, risk-bounded trade
// proposals. One engine instance serves one instrument; the strategy variant
// is selected at construction.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenwu020902/MT5-SDS/internal/indicator"
	"github.com/kenwu020902/MT5-SDS/internal/metrics"
	"github.com/kenwu020902/MT5-SDS/internal/model"
	"github.com/kenwu020902/MT5-SDS/internal/risk"
	"github.com/kenwu020902/MT5-SDS/internal/trend"
)

// Strategy selects the decision variant at construction time.
type Strategy string

const (
	// StrategyTrendFollowing confirms two-bar trends with optional MACD and
	// market-structure corroboration.
	StrategyTrendFollowing Strategy = "trend_following"

	// StrategySimpleThreshold buys above a fixed upper price and sells below
	// a fixed lower price.
	StrategySimpleThreshold Strategy = "simple_threshold"

	// StrategyUserOrderApproval emits no proposals of its own; the approval
	// engine manages user orders instead.
	StrategyUserOrderApproval Strategy = "user_order_approval"
)

// Config holds the decision engine settings. Read-only after startup.
type Config struct {
	Symbol   string
	Strategy Strategy

	HistoryBars          int // bounded bar history window
	StrictConfirmation   bool
	MACDConfirmation     bool
	CheckMarketStructure bool
	StructureBars        int  // bars in the structure window
	EntryOnOpen          bool // entry = current open instead of close

	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int

	DedupTolerance    float64 // absolute entry-price tolerance for duplicates
	RecentProposalCap int     // ring size

	// SimpleThreshold levels
	UpperThreshold float64
	LowerThreshold float64

	CallTimeout time.Duration // budget per collaborator call
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyTrendFollowing
	}
	if c.HistoryBars == 0 {
		c.HistoryBars = 200
	}
	if c.StructureBars == 0 {
		c.StructureBars = 5
	}
	if c.FastPeriod == 0 {
		c.FastPeriod = 12
	}
	if c.SlowPeriod == 0 {
		c.SlowPeriod = 26
	}
	if c.SignalPeriod == 0 {
		c.SignalPeriod = 9
	}
	if c.DedupTolerance == 0 {
		c.DedupTolerance = 0.001
	}
	if c.RecentProposalCap == 0 {
		c.RecentProposalCap = 100
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Engine owns the bar history and the recent-proposal ring. Both are mutated
// only from OnCandle; external callers just supply new bars.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	macd    *indicator.MACD
	sizer   *risk.Sizer
	orders  model.OrderMutator
	journal model.DecisionJournal
	prom    *metrics.Metrics

	mu      sync.Mutex
	history *History
	ring    *proposalRing
	balance float64
}

// New creates a decision engine. journal and prom may be nil.
func New(cfg Config, sizer *risk.Sizer, orders model.OrderMutator,
	journal model.DecisionJournal, prom *metrics.Metrics, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		log:     log.With(slog.String("component", "decision"), slog.String("strategy", string(cfg.Strategy))),
		macd:    indicator.NewMACD(cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod),
		sizer:   sizer,
		orders:  orders,
		journal: journal,
		prom:    prom,
		history: NewHistory(cfg.HistoryBars),
		ring:    newProposalRing(cfg.RecentProposalCap),
	}
}

// SetBalance updates the account balance used for position sizing.
func (e *Engine) SetBalance(balance float64) {
	e.mu.Lock()
	e.balance = balance
	e.mu.Unlock()
}

// LastCandleTime returns the newest accepted bar timestamp.
func (e *Engine) LastCandleTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.LastTS()
}

// Run consumes bars and evaluates each one.
// Blocks until ctx is cancelled or candleCh is closed.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			e.OnCandle(c)
		}
	}
}

// OnCandle appends one bar and evaluates the configured strategy. State
// mutation happens under the engine lock; the gateway submission and the
// journal write run after it is released. The forwarded proposal is returned
// for observability, nil when nothing was submitted.
func (e *Engine) OnCandle(c model.Candle) *model.TradeProposal {
	p := e.evaluate(c)
	if p == nil {
		return nil
	}
	e.submit(p)
	return p
}

// evaluate appends the bar, runs the strategy, and reserves the dedup ring
// slot. Holds e.mu throughout and never calls a collaborator.
func (e *Engine) evaluate(c model.Candle) *model.TradeProposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.Validate(time.Now().UTC()); err != nil {
		e.log.Warn("rejecting malformed candle", slog.Any("error", err))
		if e.prom != nil {
			e.prom.CandlesRejected.Inc()
		}
		return nil
	}
	if err := e.history.Append(c); err != nil {
		// Duplicate period, not a new bar
		e.log.Debug("ignoring stale candle", slog.Any("error", err))
		if e.prom != nil {
			e.prom.CandlesStale.Inc()
		}
		return nil
	}
	if e.prom != nil {
		e.prom.CandlesTotal.Inc()
	}

	var p *model.TradeProposal
	switch e.cfg.Strategy {
	case StrategyUserOrderApproval:
		return nil
	case StrategySimpleThreshold:
		p = e.evalSimple(&c)
	default:
		p = e.evalTrend()
	}
	if p == nil {
		return nil
	}

	if err := p.Validate(); err != nil {
		e.log.Warn("rejecting proposal failing its invariants", slog.Any("error", err))
		return nil
	}
	if e.ring.hasSimilar(*p, e.cfg.DedupTolerance) {
		e.log.Info("suppressing duplicate proposal",
			slog.String("action", string(p.Action)), slog.Float64("entry", p.EntryPrice))
		if e.prom != nil {
			e.prom.ProposalsSuppressed.Inc()
		}
		return nil
	}
	// Reserve before submitting: a failed submit must not allow a retry to
	// double-trade.
	e.ring.add(*p)
	return p
}

func (e *Engine) evalSimple(c *model.Candle) *model.TradeProposal {
	switch {
	case e.cfg.UpperThreshold != 0 && c.Close > e.cfg.UpperThreshold:
		return e.buildProposal(model.ActionBuy, c, nil, 0.5,
			fmt.Sprintf("close %.5f above threshold %.5f", c.Close, e.cfg.UpperThreshold))
	case e.cfg.LowerThreshold != 0 && c.Close < e.cfg.LowerThreshold:
		return e.buildProposal(model.ActionSell, c, nil, 0.5,
			fmt.Sprintf("close %.5f below threshold %.5f", c.Close, e.cfg.LowerThreshold))
	}
	return nil
}

func (e *Engine) evalTrend() *model.TradeProposal {
	bars := e.history.Bars()
	if len(bars) < 2 {
		return nil
	}
	prev, cur := &bars[len(bars)-2], &bars[len(bars)-1]

	var snap *indicator.Snapshot
	if e.cfg.MACDConfirmation {
		if s, ok := e.macd.Compute(bars); ok {
			snap = &s
		}
	}
	var window []model.Candle
	if e.cfg.CheckMarketStructure {
		window = e.history.Last(e.cfg.StructureBars)
	}

	verdict := trend.Confirm(prev, cur, snap, window, trend.Options{
		Strict:           e.cfg.StrictConfirmation,
		RequireIndicator: e.cfg.MACDConfirmation,
	})
	if e.prom != nil {
		e.prom.TrendVerdicts.WithLabelValues(verdict.String()).Inc()
	}
	if verdict == trend.VerdictNone {
		return nil
	}

	action := model.ActionBuy
	if verdict == trend.VerdictDowntrend {
		action = model.ActionSell
	}
	confidence := e.confidence(verdict, cur, snap)
	reason := fmt.Sprintf("%s confirmed with %.1f%% confidence", verdict, confidence*100)
	return e.buildProposal(action, cur, snap, confidence, reason)
}

func (e *Engine) buildProposal(action model.ProposalAction, cur *model.Candle,
	snap *indicator.Snapshot, confidence float64, reason string) *model.TradeProposal {
	entry := cur.Close
	if e.cfg.EntryOnOpen {
		entry = cur.Open
	}
	var stop, target float64
	if action == model.ActionBuy {
		stop, target = e.sizer.LongLevels(entry)
	} else {
		stop, target = e.sizer.ShortLevels(entry)
	}
	return &model.TradeProposal{
		ID:           uuid.NewString(),
		Action:       action,
		Symbol:       e.cfg.Symbol,
		EntryPrice:   entry,
		StopLoss:     stop,
		TakeProfit:   target,
		PositionSize: e.sizer.Size(entry, stop, e.balance),
		Confidence:   confidence,
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	}
}

// confidence builds the weighted composite: base 0.5, +0.2 when market
// structure independently confirms the direction, +0.1 when volume beats the
// trailing average (up to 20 bars), up to +0.2 from MACD crossover magnitude.
// Clamped [0,1].
func (e *Engine) confidence(verdict trend.Verdict, cur *model.Candle, snap *indicator.Snapshot) float64 {
	conf := 0.5

	window := e.history.Last(e.cfg.StructureBars)
	if verdict == trend.VerdictUptrend && trend.IsStructureBullish(window) {
		conf += 0.2
	} else if verdict == trend.VerdictDowntrend && trend.IsStructureBearish(window) {
		conf += 0.2
	}

	if float64(cur.Volume) > e.averageVolume() {
		conf += 0.1
	}

	if snap != nil {
		strength := indicator.CrossoverStrength(*snap) * 10
		if strength > 0.2 {
			strength = 0.2
		}
		conf += strength
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// averageVolume is the trailing average over the newest bars, at most 20.
func (e *Engine) averageVolume() float64 {
	bars := e.history.Bars()
	if len(bars) == 0 {
		return 0
	}
	n := len(bars)
	if n > 20 {
		n = 20
	}
	var sum int64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Volume
	}
	return float64(sum) / float64(n)
}

// submit forwards the proposal downstream. A failed submission is logged and
// reflected in the proposal reason but the ring reservation stands.
func (e *Engine) submit(p *model.TradeProposal) {
	if e.prom != nil {
		e.prom.ProposalsBuilt.Inc()
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()

	ok, err := e.orders.SubmitOrder(ctx, *p, model.CommentAuto)
	switch {
	case err != nil:
		p.Reason += " - submit error: " + err.Error()
		e.log.Error("order submission failed", slog.Any("error", err),
			slog.String("action", string(p.Action)), slog.Float64("entry", p.EntryPrice))
		if e.prom != nil {
			e.prom.ProposalsFailed.Inc()
		}
	case !ok:
		p.Reason += " - order rejected"
		e.log.Error("order rejected by gateway",
			slog.String("action", string(p.Action)), slog.Float64("entry", p.EntryPrice))
		if e.prom != nil {
			e.prom.ProposalsFailed.Inc()
		}
	default:
		p.Reason += " - order submitted"
		e.log.Info("proposal submitted",
			slog.String("action", string(p.Action)),
			slog.Float64("entry", p.EntryPrice),
			slog.Float64("size", p.PositionSize),
			slog.Float64("confidence", p.Confidence))
		if e.prom != nil {
			e.prom.ProposalsSubmitted.Inc()
		}
	}

	if e.journal != nil {
		e.journal.RecordProposal(ctx, *p)
	}
}
