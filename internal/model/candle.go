package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents one fixed-duration OHLC bar for a single instrument.
// Prices are float64 FX quotes.
type Candle struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar open time (UTC, period-aligned)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsBullish reports whether the candle closed above its open.
func (c *Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c *Candle) IsBearish() bool { return c.Close < c.Open }

// BodySize returns the absolute open-to-close distance.
func (c *Candle) BodySize() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-to-low distance.
func (c *Candle) Range() float64 { return c.High - c.Low }

// Midpoint returns the open/close midpoint.
func (c *Candle) Midpoint() float64 { return (c.Open + c.Close) / 2 }

// Validate checks the OHLC invariants. Invalid candles must never enter a
// history buffer.
func (c *Candle) Validate(now time.Time) error {
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo {
		return fmt.Errorf("%w: low %.5f above min(open,close) %.5f", ErrInvalidCandle, c.Low, lo)
	}
	if c.High < hi {
		return fmt.Errorf("%w: high %.5f below max(open,close) %.5f", ErrInvalidCandle, c.High, hi)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume %d", ErrInvalidCandle, c.Volume)
	}
	if c.TS.After(now) {
		return fmt.Errorf("%w: timestamp %s in the future", ErrInvalidCandle, c.TS.Format(time.RFC3339))
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
