package model

import (
	"strings"
	"time"
)

// Comment markers distinguishing system activity from human orders. An order
// carrying any of these in its comment is never treated as user-originated.
const (
	CommentAuto      = "AUTO"
	CommentSystem    = "SYSTEM"
	CommentPaused    = "PAUSED_BY_SYSTEM"
	CommentApproved  = "APPROVED_BY_SYSTEM"
	CommentCancelled = "CANCELLED_BY_SYSTEM"
	CommentExpired   = "EXPIRED_BY_SYSTEM"
)

// OrderType is the MT5 order type.
type OrderType string

const (
	OrderBuy       OrderType = "BUY"
	OrderSell      OrderType = "SELL"
	OrderBuyLimit  OrderType = "BUY_LIMIT"
	OrderSellLimit OrderType = "SELL_LIMIT"
	OrderBuyStop   OrderType = "BUY_STOP"
	OrderSellStop  OrderType = "SELL_STOP"
)

// IsBuySide reports whether the order type opens a long position.
func (t OrderType) IsBuySide() bool {
	return strings.Contains(strings.ToUpper(string(t)), "BUY")
}

// IsSellSide reports whether the order type opens a short position.
func (t OrderType) IsSellSide() bool {
	return strings.Contains(strings.ToUpper(string(t)), "SELL")
}

// OrderInfo describes one broker-side order as reported by the MT5 gateway.
type OrderInfo struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Comment    string    `json:"comment"`
	Status     string    `json:"status"` // PLACED, PENDING, FILLED, CANCELLED
	PlacedAt   time.Time `json:"placed_at"`
}

// IsSystemTagged reports whether the order comment carries a system-origin
// marker.
func (o *OrderInfo) IsSystemTagged() bool {
	c := strings.ToUpper(o.Comment)
	return strings.Contains(c, CommentAuto) || strings.Contains(c, CommentSystem)
}

// PendingUserOrder is a user order held for delayed system review.
type PendingUserOrder struct {
	Order      OrderInfo `json:"order"`
	DetectedAt time.Time `json:"detected_at"`
	CandleTime time.Time `json:"candle_time"` // bar open time when detected
	Approved   bool      `json:"approved"`
}
