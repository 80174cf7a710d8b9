package model

import (
	"fmt"
	"time"
)

// ProposalAction is what the decision engine wants done.
type ProposalAction string

const (
	ActionBuy   ProposalAction = "BUY"
	ActionSell  ProposalAction = "SELL"
	ActionHold  ProposalAction = "HOLD"
	ActionClose ProposalAction = "CLOSE"
)

// TradeProposal is one sized, risk-bounded trade produced by the decision
// engine. Transient: forwarded for submission or discarded; a bounded ring of
// recent proposals exists only for duplicate suppression.
type TradeProposal struct {
	ID           string         `json:"id"`
	Action       ProposalAction `json:"action"`
	Symbol       string         `json:"symbol"`
	EntryPrice   float64        `json:"entry_price"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	PositionSize float64        `json:"position_size"`
	Confidence   float64        `json:"confidence"` // [0,1]
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate enforces the price ordering invariants for actionable proposals.
// BUY: stop < entry < target. SELL: target < entry < stop.
func (p *TradeProposal) Validate() error {
	switch p.Action {
	case ActionBuy:
		if !(p.StopLoss < p.EntryPrice && p.EntryPrice < p.TakeProfit) {
			return fmt.Errorf("%w: BUY needs stop %.5f < entry %.5f < target %.5f",
				ErrInvalidProposal, p.StopLoss, p.EntryPrice, p.TakeProfit)
		}
	case ActionSell:
		if !(p.TakeProfit < p.EntryPrice && p.EntryPrice < p.StopLoss) {
			return fmt.Errorf("%w: SELL needs target %.5f < entry %.5f < stop %.5f",
				ErrInvalidProposal, p.TakeProfit, p.EntryPrice, p.StopLoss)
		}
	default:
		return nil
	}
	if p.PositionSize <= 0 {
		return fmt.Errorf("%w: non-positive position size %.4f", ErrInvalidProposal, p.PositionSize)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidProposal, p.Confidence)
	}
	return nil
}
