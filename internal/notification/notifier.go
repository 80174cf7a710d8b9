// Package notification delivers trading alerts (order approvals,
// cancellations, expiries) to external channels such as Telegram or a
// generic webhook.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification to be delivered.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// OrderAlert builds an alert describing the outcome of a tracked order.
func OrderAlert(o model.OrderInfo, outcome, classification string) Alert {
	level := AlertInfo
	switch outcome {
	case "CANCELLED":
		level = AlertWarning
	case "EXPIRED":
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s order #%d %s", o.Symbol, o.Ticket, outcome),
		Message: fmt.Sprintf("%s %.2f lots @ %.5f, market %s",
			o.Type, o.Volume, o.Price, classification),
	}
}

// LogNotifier writes alerts to the structured log. Used when no external
// channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info("alert", "level", string(alert.Level), "title", alert.Title, "message", alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery errors are logged
// and do not stop the remaining backends.
type Multi struct {
	backends []Notifier
	log      *slog.Logger
}

// NewMulti creates a fan-out notifier over the given backends.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends, log: slog.Default().With("component", "notify")}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			m.log.Warn("alert delivery failed", "error", err, "title", alert.Title)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
