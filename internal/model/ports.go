package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the decision core from the MT5 gateway transport.
// pkg/mt5bridge satisfies both; tests supply deterministic fakes. Every call
// that crosses the network takes a context carrying the 10s budget.

// MarketData is the market-data and order-source collaborator.
type MarketData interface {
	// OnNewCandle registers the bar callback, invoked exactly once per
	// completed period in non-decreasing timestamp order.
	OnNewCandle(fn func(Candle))

	// PendingOrders returns a snapshot of outstanding orders for symbol.
	PendingOrders(ctx context.Context, symbol string) ([]OrderInfo, error)

	// CurrentPrice returns the latest quote for symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// AccountBalance returns the account balance.
	AccountBalance(ctx context.Context) (float64, error)
}

// DecisionJournal records decision outcomes for audit. Implementations must
// tolerate being called on the engine hot path: log-and-continue on failure,
// never block beyond the context budget.
type DecisionJournal interface {
	// RecordProposal persists one trade proposal and its outcome.
	RecordProposal(ctx context.Context, p TradeProposal)

	// RecordOrderOutcome persists one pending-order lifecycle outcome
	// (APPROVED, CANCELLED, EXPIRED, HELD) with its trend classification.
	RecordOrderOutcome(ctx context.Context, o OrderInfo, outcome, classification string)

	// Close releases underlying resources.
	Close() error
}

// OrderMutator is the order-mutation collaborator.
type OrderMutator interface {
	// SubmitOrder places a new system order.
	SubmitOrder(ctx context.Context, p TradeProposal, comment string) (bool, error)

	// ModifyOrder rewrites an existing order in place (advisory pause).
	ModifyOrder(ctx context.Context, o OrderInfo, comment string) (bool, error)

	// ExecuteOrder promotes a held user order to live execution.
	ExecuteOrder(ctx context.Context, o OrderInfo, comment string) (bool, error)

	// CancelOrder withdraws an order with a reason tag.
	CancelOrder(ctx context.Context, ticket int64, reason string) (bool, error)
}
