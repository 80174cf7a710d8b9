// Package mt5bridge is the websocket client for the MT5 gateway. It satisfies
// both collaborator ports: completed bars stream in as server events and fan
// out to registered callbacks, while order and account operations run as
// request/response calls over the same connection.
//
// The connection is self-healing: on any read error the client drops the
// session, fails all in-flight calls, and redials with exponential backoff.
// Each fresh session performs a TOTP login before subscribing, the gateway
// session codes rotate per connection.
package mt5bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"github.com/kenwu020902/MT5-SDS/internal/metrics"
	"github.com/kenwu020902/MT5-SDS/internal/model"
	"github.com/kenwu020902/MT5-SDS/internal/ringbuf"
)

// ErrNotConnected is returned by calls made while the session is down.
var ErrNotConnected = errors.New("mt5bridge: not connected")

const (
	heartbeatInterval = 10 * time.Second
	heartbeatMessage  = "ping"
)

// Config holds the bridge connection settings.
type Config struct {
	URL    string // gateway websocket URL, e.g. "ws://localhost:8765/ws"
	Symbol string

	Account    string
	Password   string
	TOTPSecret string // base32 secret for per-session login codes

	CallTimeout       time.Duration // budget per request/response call
	ReconnectInitial  time.Duration // first redial delay
	ReconnectMax      time.Duration // backoff cap
	RingCapacity      int           // candle handoff buffer
	HandshakeDeadline time.Duration // auth + subscribe budget per session
}

func (c *Config) defaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = 2 * time.Second
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = 256
	}
	if c.HandshakeDeadline == 0 {
		c.HandshakeDeadline = 15 * time.Second
	}
}

// Client is the gateway connection. It implements model.MarketData and
// model.OrderMutator.
type Client struct {
	cfg  Config
	log  *slog.Logger
	prom *metrics.Metrics

	mu      sync.Mutex // guards conn and pending
	conn    *websocket.Conn
	pending map[uint64]chan envelope

	writeMu sync.Mutex // serializes frame writes
	nextID  atomic.Uint64

	ring    *ringbuf.Ring
	notify  chan struct{}
	lastTS  atomic.Int64 // unix seconds of last accepted bar
	handler atomic.Value // func(model.Candle)
}

var (
	_ model.MarketData   = (*Client)(nil)
	_ model.OrderMutator = (*Client)(nil)
)

// New creates a bridge client. prom may be nil.
func New(cfg Config, prom *metrics.Metrics, log *slog.Logger) (*Client, error) {
	cfg.defaults()
	if cfg.URL == "" {
		return nil, errors.New("mt5bridge: URL required")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("mt5bridge: symbol required")
	}
	return &Client{
		cfg:     cfg,
		log:     log.With(slog.String("component", "mt5bridge")),
		prom:    prom,
		pending: make(map[uint64]chan envelope),
		ring:    ringbuf.New(cfg.RingCapacity),
		notify:  make(chan struct{}, 1),
	}, nil
}

// OnNewCandle registers the bar callback. Must be called before Run.
func (c *Client) OnNewCandle(fn func(model.Candle)) {
	c.handler.Store(fn)
}

// Run maintains the gateway session until ctx is cancelled. Blocks.
func (c *Client) Run(ctx context.Context) {
	go c.feedLoop(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectInitial
	bo.MaxInterval = c.cfg.ReconnectMax
	bo.MaxElapsedTime = 0 // retry forever

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := bo.NextBackOff()
		c.log.Warn("session ended, reconnecting",
			slog.Any("error", err), slog.Duration("delay", delay))
		if c.prom != nil {
			c.prom.BridgeReconnects.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		// A session that survived long enough to stream bars resets the
		// backoff so a later blip redials quickly.
		if !c.lastSeen().IsZero() && time.Since(c.lastSeen()) < bo.MaxInterval {
			bo.Reset()
		}
	}
}

// runSession dials, authenticates, subscribes, and reads until failure.
func (c *Client) runSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.teardown(conn)

	c.log.Info("connected", slog.String("url", c.cfg.URL))

	readErr := make(chan error, 1)
	go func() { readErr <- c.readPump(conn) }()

	hsCtx, hsCancel := context.WithTimeout(ctx, c.cfg.HandshakeDeadline)
	err = c.handshake(hsCtx)
	hsCancel()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.log.Info("session established", slog.String("symbol", c.cfg.Symbol))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-heartbeat.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage,
				[]byte(heartbeatMessage), time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

// handshake logs in with a fresh TOTP code and subscribes to the bar stream.
func (c *Client) handshake(ctx context.Context) error {
	code := ""
	if c.cfg.TOTPSecret != "" {
		var err error
		code, err = totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("totp: %w", err)
		}
	}

	var ack ackResult
	if err := c.call(ctx, methodAuth, authParams{
		Account:  c.cfg.Account,
		Password: c.cfg.Password,
		TOTP:     code,
	}, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("auth rejected: %s", ack.Message)
	}

	if err := c.call(ctx, methodSubscribeCandles, symbolParams{Symbol: c.cfg.Symbol}, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("subscribe rejected: %s", ack.Message)
	}
	return nil
}

// teardown drops the connection and fails every in-flight call.
func (c *Client) teardown(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// readPump reads frames until the connection fails. Responses route to their
// waiting call; candle events land in the ring buffer.
func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("unparseable frame", slog.Any("error", err))
			continue
		}

		if env.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		if env.Event == eventCandle {
			c.onCandleEvent(env.Data)
		}
	}
}

func (c *Client) onCandleEvent(data json.RawMessage) {
	var p candlePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("bad candle payload", slog.Any("error", err))
		return
	}
	candle := p.toModel()

	// The gateway guarantees non-decreasing bar times per session; a
	// reconnect may replay the last bar, which the engines ignore anyway.
	c.lastTS.Store(candle.TS.Unix())

	if !c.ring.Push(candle) {
		c.log.Warn("candle buffer full, dropping bar",
			slog.Time("ts", candle.TS), slog.Uint64("dropped_total", c.ring.Overflow()))
		if c.prom != nil {
			c.prom.BridgeRingDropped.Set(float64(c.ring.Overflow()))
		}
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// feedLoop drains the ring and invokes the registered callback in order.
func (c *Client) feedLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}
		for {
			candle, ok := c.ring.Pop()
			if !ok {
				break
			}
			if fn, ok := c.handler.Load().(func(model.Candle)); ok && fn != nil {
				fn(candle)
			}
		}
	}
}

func (c *Client) lastSeen() time.Time {
	ts := c.lastTS.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// call performs one request/response round trip within ctx.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case env, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrNotConnected)
		}
		if env.Error != "" {
			return fmt.Errorf("%s: gateway error: %s", method, env.Error)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("%s decode: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) observeCall(op string, start time.Time, err error) {
	if c.prom == nil {
		return
	}
	c.prom.CollaboratorCallDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.prom.CollaboratorErrors.WithLabelValues(op).Inc()
	}
}

// ── model.MarketData ──

// PendingOrders returns a snapshot of outstanding orders for symbol.
func (c *Client) PendingOrders(ctx context.Context, symbol string) ([]model.OrderInfo, error) {
	start := time.Now()
	var orders []model.OrderInfo
	err := c.call(ctx, methodPendingOrders, symbolParams{Symbol: symbol}, &orders)
	c.observeCall("pending_orders", start, err)
	return orders, err
}

// CurrentPrice returns the latest quote for symbol.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	var res priceResult
	err := c.call(ctx, methodCurrentPrice, symbolParams{Symbol: symbol}, &res)
	c.observeCall("current_price", start, err)
	return res.Price, err
}

// AccountBalance returns the account balance.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	start := time.Now()
	var res balanceResult
	err := c.call(ctx, methodAccountBalance, nil, &res)
	c.observeCall("account_balance", start, err)
	return res.Balance, err
}

// ── model.OrderMutator ──

// SubmitOrder places a new system order.
func (c *Client) SubmitOrder(ctx context.Context, p model.TradeProposal, comment string) (bool, error) {
	start := time.Now()
	var ack ackResult
	err := c.call(ctx, methodSubmitOrder, submitParams{Proposal: p, Comment: comment}, &ack)
	c.observeCall("submit_order", start, err)
	return ack.OK, err
}

// ModifyOrder rewrites an existing order in place.
func (c *Client) ModifyOrder(ctx context.Context, o model.OrderInfo, comment string) (bool, error) {
	start := time.Now()
	var ack ackResult
	err := c.call(ctx, methodModifyOrder, orderParams{Order: o, Comment: comment}, &ack)
	c.observeCall("modify_order", start, err)
	return ack.OK, err
}

// ExecuteOrder promotes a held user order to live execution.
func (c *Client) ExecuteOrder(ctx context.Context, o model.OrderInfo, comment string) (bool, error) {
	start := time.Now()
	var ack ackResult
	err := c.call(ctx, methodExecuteOrder, orderParams{Order: o, Comment: comment}, &ack)
	c.observeCall("execute_order", start, err)
	return ack.OK, err
}

// CancelOrder withdraws an order with a reason tag.
func (c *Client) CancelOrder(ctx context.Context, ticket int64, reason string) (bool, error) {
	start := time.Now()
	var ack ackResult
	err := c.call(ctx, methodCancelOrder, cancelParams{Ticket: ticket, Reason: reason}, &ack)
	c.observeCall("cancel_order", start, err)
	return ack.OK, err
}
