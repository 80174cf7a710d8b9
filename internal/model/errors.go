package model

import "errors"

// Sentinel errors shared across the decision core. Insufficient indicator
// history is deliberately NOT an error: pure calculators return (value, ok)
// and absence means "no opinion".
var (
	// ErrInvalidCandle marks a bar violating its OHLC invariants. The bar is
	// rejected before entering any history buffer.
	ErrInvalidCandle = errors.New("invalid candle")

	// ErrInvalidProposal marks a trade proposal failing its own price
	// invariants. It is rejected locally and never forwarded.
	ErrInvalidProposal = errors.New("invalid trade proposal")

	// ErrStaleCandle marks a bar whose timestamp is not strictly newer than
	// the last accepted bar. Treated as a duplicate period, not a new one.
	ErrStaleCandle = errors.New("stale candle")
)
