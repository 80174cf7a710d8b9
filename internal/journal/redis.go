package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

const (
	// Stream trimming: roughly a week of one-per-bar records plus buffer
	proposalStreamMaxLen = 11000
	outcomeStreamMaxLen  = 11000
	defaultLatestTTL     = 30 * time.Minute

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// RedisSink publishes proposals and order outcomes to Redis Streams for live
// consumers (dashboards, downstream analytics). Every write goes through a
// circuit breaker so a dead Redis degrades to dropped telemetry instead of
// stalling decision cycles.
type RedisSink struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	symbol  string
	log     *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (s *RedisSink) Client() *goredis.Client { return s.client }

// Breaker exposes the circuit breaker for state wiring.
func (s *RedisSink) Breaker() *CircuitBreaker { return s.breaker }

// NewRedisSink creates a Redis sink and pings the server.
func NewRedisSink(cfg RedisConfig, symbol string, log *slog.Logger) (*RedisSink, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log = log.With(slog.String("component", "journal.redis"))
	log.Info("connected", slog.String("addr", cfg.Addr))
	return &RedisSink{
		client:  client,
		breaker: NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout),
		symbol:  symbol,
		log:     log,
	}, nil
}

// WriteProposal performs the pipelined write for one trade proposal:
// XADD to the proposal stream, SET of the latest key, PUBLISH for subscribers.
func (s *RedisSink) WriteProposal(ctx context.Context, p model.TradeProposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	jsonData := string(data)

	streamKey := "sds:proposal:" + s.symbol
	latestKey := "sds:proposal:latest:" + s.symbol
	pubsubCh := "pub:sds:proposal:" + s.symbol

	return s.breaker.Execute(func() error {
		pipe := s.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: proposalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// WriteOutcome records one approval verdict for a user order.
func (s *RedisSink) WriteOutcome(ctx context.Context, o model.OrderInfo, outcome, classification string) error {
	data, err := json.Marshal(struct {
		Order          model.OrderInfo `json:"order"`
		Outcome        string          `json:"outcome"`
		Classification string          `json:"classification"`
		At             time.Time       `json:"at"`
	}{o, outcome, classification, time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	jsonData := string(data)

	streamKey := "sds:outcome:" + s.symbol
	pubsubCh := "pub:sds:outcome:" + s.symbol

	return s.breaker.Execute(func() error {
		pipe := s.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: outcomeStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
