package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenwu020902/MT5-SDS/internal/logger"
	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// fakeGateway implements both collaborator ports with canned responses.
type fakeGateway struct {
	mu          sync.Mutex
	orders      []model.OrderInfo
	price       float64
	priceErr    error
	failExecute bool

	executed  []string // comments passed to ExecuteOrder
	cancelled []string // reasons passed to CancelOrder
	modified  []string // comments passed to ModifyOrder
	priceHits int
}

func (f *fakeGateway) OnNewCandle(fn func(model.Candle)) {}

func (f *fakeGateway) PendingOrders(ctx context.Context, symbol string) ([]model.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.OrderInfo, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeGateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceHits++
	return f.price, f.priceErr
}

func (f *fakeGateway) AccountBalance(ctx context.Context) (float64, error) { return 10000, nil }

func (f *fakeGateway) SubmitOrder(ctx context.Context, p model.TradeProposal, comment string) (bool, error) {
	return true, nil
}

func (f *fakeGateway) ModifyOrder(ctx context.Context, o model.OrderInfo, comment string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modified = append(f.modified, comment)
	return true, nil
}

func (f *fakeGateway) ExecuteOrder(ctx context.Context, o model.OrderInfo, comment string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExecute {
		return false, errors.New("gateway unavailable")
	}
	f.executed = append(f.executed, comment)
	return true, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, ticket int64, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, reason)
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testThresholds() Thresholds {
	return Thresholds{StrongBullish: 1.0, Bullish: 0.1, Bearish: -0.1, StrongBearish: -1.0}
}

func buyOrder(ticket int64, price float64) model.OrderInfo {
	return model.OrderInfo{
		Ticket: ticket,
		Symbol: "EURUSD",
		Type:   model.OrderBuyLimit,
		Volume: 0.1,
		Price:  price,
		Status: "PLACED",
	}
}

func newEngine(gw *fakeGateway, mutate func(*Config)) *Engine {
	cfg := Config{
		Symbol:               "EURUSD",
		DecisionSecond:       45,
		PeriodSeconds:        60,
		PriceTolerance:       20,
		NeutralBuyAdvantage:  0.5,
		NeutralSellAdvantage: 0.5,
		Thresholds:           testThresholds(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, gw, gw, nil, nil, discardLogger())
}

// feed pushes n bars with the given open so the prediction window averages it.
func feed(e *Engine, open float64, n int) {
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		e.OnCandle(model.Candle{
			Symbol: "EURUSD",
			TS:     base.Add(time.Duration(i) * time.Minute),
			Open:   open, High: open + 1, Low: open - 1, Close: open,
			Volume: 10,
		})
	}
}

func TestClassify(t *testing.T) {
	th := testThresholds()
	cases := []struct {
		change float64
		want   Classification
	}{
		{2.0, StrongBullish},
		{1.0, Bullish}, // not strictly above strong threshold
		{0.5, Bullish},
		{0.1, Neutral},
		{0.0, Neutral},
		{-0.1, Neutral},
		{-0.5, Bearish},
		{-1.0, Bearish},
		{-2.0, StrongBearish},
	}
	for _, tc := range cases {
		if got := Classify(tc.change, th); got != tc.want {
			t.Errorf("Classify(%.2f) = %s, want %s", tc.change, got, tc.want)
		}
	}
}

func TestShouldExecute_Matrix(t *testing.T) {
	cfg := Config{PriceTolerance: 20, NeutralBuyAdvantage: 0.5, NeutralSellAdvantage: 0.5}
	buy := buyOrder(1, 100)
	sell := model.OrderInfo{Ticket: 2, Symbol: "EURUSD", Type: model.OrderSellLimit, Price: 100}

	// Spec scenario: Buy at 100, current 100.5, tolerance 20
	assert.True(t, shouldExecute(&buy, Bullish, 100.5, cfg))
	assert.False(t, shouldExecute(&buy, Bearish, 100.5, cfg))

	assert.True(t, shouldExecute(&buy, StrongBullish, 100.5, cfg))
	assert.False(t, shouldExecute(&sell, StrongBullish, 100.5, cfg))
	assert.True(t, shouldExecute(&sell, StrongBearish, 100.5, cfg))
	assert.False(t, shouldExecute(&buy, StrongBearish, 100.5, cfg))

	// Bullish price gate: entry too far below current fails the tolerance
	assert.False(t, shouldExecute(&buy, Bullish, 125, cfg))
	// Bearish mirror for sells
	assert.True(t, shouldExecute(&sell, Bearish, 99.5, cfg))
	assert.False(t, shouldExecute(&sell, Bearish, 75, cfg))

	// Neutral needs a clear price advantage
	assert.False(t, shouldExecute(&buy, Neutral, 100.4, cfg))
	assert.True(t, shouldExecute(&buy, Neutral, 100.6, cfg))
	assert.True(t, shouldExecute(&sell, Neutral, 99.4, cfg))
	assert.False(t, shouldExecute(&sell, Neutral, 99.6, cfg))
}

func TestScan_DetectsOnlyNewUserOrders(t *testing.T) {
	gw := &fakeGateway{price: 100}
	gw.orders = []model.OrderInfo{
		buyOrder(101, 100),
		{Ticket: 102, Symbol: "EURUSD", Type: model.OrderBuy, Comment: "AUTO_TREND", Price: 100},
		{Ticket: 103, Symbol: "GBPUSD", Type: model.OrderBuy, Price: 100},
		{Ticket: 104, Symbol: "EURUSD", Type: model.OrderSell, Comment: "placed by SYSTEM", Price: 100},
	}
	e := newEngine(gw, nil)
	feed(e, 100, 3)

	e.scanOnce(context.Background())
	st := e.Status()
	assert.Equal(t, 1, st.Pending, "system-tagged and foreign-symbol orders are ignored")

	// Rescanning must not duplicate the tracked order
	e.scanOnce(context.Background())
	assert.Equal(t, 1, e.Status().Pending)
}

func TestScan_AutoPauseIsAdvisory(t *testing.T) {
	gw := &fakeGateway{price: 100, orders: []model.OrderInfo{buyOrder(7, 100)}}
	e := newEngine(gw, func(c *Config) { c.AutoPause = true })
	feed(e, 100, 2)

	e.scanOnce(context.Background())
	require.Equal(t, 1, e.Status().Pending)
	require.Len(t, gw.modified, 1)
	assert.Equal(t, model.CommentPaused, gw.modified[0])
}

func TestDecide_ApprovesAlignedBuy(t *testing.T) {
	gw := &fakeGateway{price: 100.5, orders: []model.OrderInfo{buyOrder(11, 100)}}
	e := newEngine(gw, nil)
	feed(e, 100, 10) // avg open 100, price 100.5 => +0.5% => Bullish

	e.scanOnce(context.Background())
	require.Equal(t, 1, e.Status().Pending)

	e.decideOnce(context.Background(), time.Now().UTC())
	st := e.Status()
	assert.Equal(t, 0, st.Pending, "approved order leaves the pending table")
	assert.Equal(t, 1, st.Active)
	require.Len(t, gw.executed, 1)
	assert.Equal(t, "APPROVED_BY_SYSTEM_BULLISH", gw.executed[0])
}

func TestDecide_BearishHoldsBuyWithoutAutoCancel(t *testing.T) {
	gw := &fakeGateway{price: 99.5, orders: []model.OrderInfo{buyOrder(12, 100)}}
	e := newEngine(gw, nil)
	feed(e, 100, 10) // -0.5% => Bearish

	e.scanOnce(context.Background())
	e.decideOnce(context.Background(), time.Now().UTC())

	st := e.Status()
	assert.Equal(t, 1, st.Pending, "held order stays pending for the next cycle")
	assert.Empty(t, gw.executed)
	assert.Empty(t, gw.cancelled)
}

func TestDecide_BearishCancelsBuyWithAutoCancel(t *testing.T) {
	gw := &fakeGateway{price: 99.5, orders: []model.OrderInfo{buyOrder(13, 100)}}
	e := newEngine(gw, func(c *Config) { c.AutoCancel = true })
	feed(e, 100, 10)

	e.scanOnce(context.Background())
	e.decideOnce(context.Background(), time.Now().UTC())

	st := e.Status()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 0, st.Active)
	require.Len(t, gw.cancelled, 1)
	assert.Equal(t, model.CommentCancelled, gw.cancelled[0])
}

func TestDecide_FailedExecutionKeepsOrderPending(t *testing.T) {
	gw := &fakeGateway{price: 100.5, failExecute: true, orders: []model.OrderInfo{buyOrder(14, 100)}}
	e := newEngine(gw, nil)
	feed(e, 100, 10)

	e.scanOnce(context.Background())
	e.decideOnce(context.Background(), time.Now().UTC())

	st := e.Status()
	assert.Equal(t, 1, st.Pending, "abandoned transition leaves the order pending")
	assert.Equal(t, 0, st.Active)
}

func TestMaybeDecide_PerBarGuard(t *testing.T) {
	gw := &fakeGateway{price: 100.5, orders: []model.OrderInfo{buyOrder(15, 100)}}
	e := newEngine(gw, nil)

	now := time.Now().UTC()
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: now.Add(-46 * time.Second),
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
	e.scanOnce(context.Background())

	// Before the decision second: no evaluation
	e.maybeDecide(context.Background(), now.Add(-36*time.Second)) // elapsed 10s
	assert.Zero(t, gw.priceHits)

	// At the decision second: evaluates once
	e.maybeDecide(context.Background(), now)
	assert.Equal(t, 1, gw.priceHits)

	// Late re-invocations within the same bar: guarded
	e.maybeDecide(context.Background(), now.Add(time.Second))
	e.maybeDecide(context.Background(), now.Add(5*time.Second))
	assert.Equal(t, 1, gw.priceHits, "decision fires at most once per bar")

	// A new bar resets the guard
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: now.Add(-45 * time.Second).Add(time.Minute),
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
	gw.orders = append(gw.orders, buyOrder(16, 100))
	e.scanOnce(context.Background())
	e.maybeDecide(context.Background(), now.Add(time.Minute))
	assert.Equal(t, 2, gw.priceHits)
}

func TestSweep_ExpiredOrderCancelledAndForgotten(t *testing.T) {
	gw := &fakeGateway{price: 100, orders: []model.OrderInfo{buyOrder(21, 100)}}
	e := newEngine(gw, func(c *Config) { c.MaxOrderHold = time.Minute })
	feed(e, 100, 3)

	e.scanOnce(context.Background())
	require.Equal(t, 1, e.Status().Pending)

	// Not yet expired
	e.sweepExpired(context.Background(), time.Now().UTC().Add(30*time.Second))
	assert.Equal(t, 1, e.Status().Pending)

	// Past the hold time: cancelled upstream and removed locally
	e.sweepExpired(context.Background(), time.Now().UTC().Add(2*time.Minute))
	assert.Equal(t, 0, e.Status().Pending)
	require.Len(t, gw.cancelled, 1)
	assert.Equal(t, model.CommentExpired, gw.cancelled[0])

	// The expired ticket plays no part in later decision cycles
	gw.orders = nil
	e.decideOnce(context.Background(), time.Now().UTC())
	assert.Empty(t, gw.executed)
}

func TestPriceWindow(t *testing.T) {
	w := newPriceWindow(3)
	if _, ok := w.average(); ok {
		t.Fatal("empty window must report no average")
	}
	w.push(1)
	w.push(2)
	w.push(3)
	w.push(4) // evicts 1
	avg, ok := w.average()
	require.True(t, ok)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestOnCandle_IgnoresNonAdvancingBars(t *testing.T) {
	gw := &fakeGateway{}
	e := newEngine(gw, nil)
	ts := time.Now().UTC().Add(-time.Minute)
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: ts, Open: 100, High: 101, Low: 99, Close: 100})
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: ts, Open: 200, High: 201, Low: 199, Close: 200})
	assert.Equal(t, ts, e.Status().LastCandleTime)
	avg, _ := e.prices.average()
	assert.InDelta(t, 100.0, avg, 1e-9, "duplicate bar must not enter the window")
}

func TestOnCandle_RejectsMalformedBars(t *testing.T) {
	gw := &fakeGateway{}
	e := newEngine(gw, nil)
	ts := time.Now().UTC().Add(-time.Minute)

	// High below the close violates the OHLC invariant
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: ts, Open: 500, High: 499, Low: 400, Close: 500})
	// Future-dated bars are equally rejected
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: time.Now().UTC().Add(time.Hour), Open: 500, High: 501, Low: 499, Close: 500})

	assert.True(t, e.Status().LastCandleTime.IsZero(), "rejected bars must not advance the bar clock")
	if _, ok := e.prices.average(); ok {
		t.Fatal("rejected bars must not feed the prediction window")
	}

	// A well-formed bar still lands
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: ts, Open: 100, High: 101, Low: 99, Close: 100})
	avg, ok := e.prices.average()
	require.True(t, ok)
	assert.InDelta(t, 100.0, avg, 1e-9)
}

// recordingJournal captures the context and verdict of every outcome write.
type recordingJournal struct {
	mu       sync.Mutex
	cycleIDs []string
	outcomes []string
}

func (r *recordingJournal) RecordProposal(ctx context.Context, p model.TradeProposal) {}

func (r *recordingJournal) RecordOrderOutcome(ctx context.Context, o model.OrderInfo, outcome, classification string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycleIDs = append(r.cycleIDs, logger.CycleID(ctx))
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingJournal) Close() error { return nil }

func TestDecide_CycleIDReachesJournal(t *testing.T) {
	gw := &fakeGateway{price: 100.5}
	jrnl := &recordingJournal{}
	cfg := Config{
		Symbol:               "EURUSD",
		DecisionSecond:       45,
		PeriodSeconds:        60,
		PriceTolerance:       20,
		NeutralBuyAdvantage:  0.5,
		NeutralSellAdvantage: 0.5,
		Thresholds:           testThresholds(),
	}
	e := New(cfg, gw, gw, jrnl, nil, discardLogger())

	gw.orders = []model.OrderInfo{buyOrder(71, 100)}
	e.scanOnce(context.Background())

	// One bar old enough that the decision second has passed within its period
	barTS := time.Now().UTC().Add(-46 * time.Second)
	e.OnCandle(model.Candle{Symbol: "EURUSD", TS: barTS, Open: 100, High: 101, Low: 99, Close: 100})

	// Fire through the decision driver so the cycle is tagged with the
	// evaluated bar's ID
	e.maybeDecide(context.Background(), time.Now().UTC())

	jrnl.mu.Lock()
	defer jrnl.mu.Unlock()
	require.NotEmpty(t, jrnl.outcomes, "decision cycle must journal a verdict")
	assert.Equal(t, "APPROVED", jrnl.outcomes[0])
	require.NotEmpty(t, jrnl.cycleIDs[0], "journal context must carry the cycle ID")
	assert.True(t, strings.HasPrefix(jrnl.cycleIDs[0], "EURUSD-"), "cycle ID %q", jrnl.cycleIDs[0])
}
