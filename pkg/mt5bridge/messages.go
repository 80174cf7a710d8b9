package mt5bridge

import (
	"encoding/json"
	"time"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// The gateway speaks JSON frames over a single websocket. Requests carry a
// client-assigned id and are answered by a frame echoing that id; frames
// without an id are server-pushed events (completed bars).

const (
	methodAuth             = "auth"
	methodSubscribeCandles = "subscribe_candles"
	methodPendingOrders    = "pending_orders"
	methodCurrentPrice     = "current_price"
	methodAccountBalance   = "account_balance"
	methodSubmitOrder      = "submit_order"
	methodModifyOrder      = "modify_order"
	methodExecuteOrder     = "execute_order"
	methodCancelOrder      = "cancel_order"

	eventCandle = "candle"
)

type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// envelope is any inbound frame: a response (ID set) or an event (Event set).
type envelope struct {
	ID     uint64          `json:"id,omitempty"`
	Event  string          `json:"event,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type authParams struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type submitParams struct {
	Proposal model.TradeProposal `json:"proposal"`
	Comment  string              `json:"comment"`
}

type orderParams struct {
	Order   model.OrderInfo `json:"order"`
	Comment string          `json:"comment"`
}

type cancelParams struct {
	Ticket int64  `json:"ticket"`
	Reason string `json:"reason"`
}

type ackResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type priceResult struct {
	Price float64 `json:"price"`
}

type balanceResult struct {
	Balance float64 `json:"balance"`
}

// candlePayload is the wire form of one completed bar.
type candlePayload struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // bar open time, unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (p candlePayload) toModel() model.Candle {
	return model.Candle{
		Symbol: p.Symbol,
		TS:     time.Unix(p.TS, 0).UTC(),
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
}
