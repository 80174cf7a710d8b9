// Package journal persists decision outcomes to two sinks: Redis Streams for
// live consumers and SQLite for the durable audit trail. Writes are
// best-effort on the engine hot path: a failing sink is logged and counted,
// never propagated back into the decision cycle.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/kenwu020902/MT5-SDS/internal/metrics"
	"github.com/kenwu020902/MT5-SDS/internal/model"
	"github.com/kenwu020902/MT5-SDS/internal/notification"
)

// Journal fans decision records out to the configured sinks. Either sink may
// be nil when disabled by configuration.
type Journal struct {
	redis    *RedisSink
	sqlite   *SQLiteSink
	notifier notification.Notifier
	prom     *metrics.Metrics
	log      *slog.Logger
}

var _ model.DecisionJournal = (*Journal)(nil)

// New assembles a journal. prom may be nil.
func New(redis *RedisSink, sqlite *SQLiteSink, prom *metrics.Metrics, log *slog.Logger) *Journal {
	j := &Journal{
		redis:  redis,
		sqlite: sqlite,
		prom:   prom,
		log:    log.With(slog.String("component", "journal")),
	}
	if redis != nil && prom != nil {
		redis.Breaker().OnStateChange = func(from, to State) {
			j.log.Warn("redis breaker state change",
				slog.String("from", from.String()), slog.String("to", to.String()))
			prom.RedisBreakerState.Set(float64(to))
			if to == StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}
	}
	return j
}

// SetNotifier attaches an alert channel for terminal order outcomes.
// Must be called before the journal is in use.
func (j *Journal) SetNotifier(n notification.Notifier) {
	j.notifier = n
}

// RecordProposal writes one trade proposal to every sink.
func (j *Journal) RecordProposal(ctx context.Context, p model.TradeProposal) {
	timer := j.writeTimer()
	defer timer()

	if j.redis != nil {
		if err := j.redis.WriteProposal(ctx, p); err != nil && err != ErrCircuitOpen {
			j.log.Warn("redis proposal write failed", slog.String("id", p.ID), slog.Any("error", err))
		}
	}
	if j.sqlite != nil {
		if err := j.sqlite.InsertProposal(p); err != nil {
			j.log.Warn("sqlite proposal write failed", slog.String("id", p.ID), slog.Any("error", err))
		}
	}
}

// RecordOrderOutcome writes one approval verdict to every sink.
func (j *Journal) RecordOrderOutcome(ctx context.Context, o model.OrderInfo, outcome, classification string) {
	timer := j.writeTimer()
	defer timer()

	if j.redis != nil {
		if err := j.redis.WriteOutcome(ctx, o, outcome, classification); err != nil && err != ErrCircuitOpen {
			j.log.Warn("redis outcome write failed", slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		}
	}
	if j.sqlite != nil {
		if err := j.sqlite.InsertOutcome(o, outcome, classification); err != nil {
			j.log.Warn("sqlite outcome write failed", slog.Int64("ticket", o.Ticket), slog.Any("error", err))
		}
	}

	// Terminal verdicts go out as alerts. HELD fires every cycle an order
	// waits, so it stays out of the notification channel.
	if j.notifier != nil && outcome != "HELD" {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := j.notifier.Send(nctx, notification.OrderAlert(o, outcome, classification)); err != nil {
				j.log.Warn("outcome alert failed", slog.Int64("ticket", o.Ticket), slog.Any("error", err))
			}
		}()
	}
}

// Close releases both sinks. The first error wins.
func (j *Journal) Close() error {
	var first error
	if j.redis != nil {
		if err := j.redis.Close(); err != nil {
			first = err
		}
	}
	if j.sqlite != nil {
		if err := j.sqlite.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (j *Journal) writeTimer() func() {
	if j.prom == nil {
		return func() {}
	}
	start := time.Now()
	return func() { j.prom.JournalWriteDur.Observe(time.Since(start).Seconds()) }
}
