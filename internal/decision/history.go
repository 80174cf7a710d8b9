package decision

import (
	"fmt"
	"time"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// History is a bounded, ordered bar history. Newest appended, oldest evicted
// past the configured window. Bars must arrive in strictly increasing
// timestamp order; anything else is a duplicate period and is rejected.
type History struct {
	max  int
	bars []model.Candle
}

// NewHistory creates a history bounded to max bars.
func NewHistory(max int) *History {
	if max < 2 {
		max = 2
	}
	return &History{max: max, bars: make([]model.Candle, 0, max)}
}

// Append adds a bar, evicting the oldest when full.
// Returns model.ErrStaleCandle when the timestamp does not advance.
func (h *History) Append(c model.Candle) error {
	if n := len(h.bars); n > 0 && !c.TS.After(h.bars[n-1].TS) {
		return fmt.Errorf("%w: %s not after %s",
			model.ErrStaleCandle, c.TS.Format(time.RFC3339), h.bars[n-1].TS.Format(time.RFC3339))
	}
	if len(h.bars) == h.max {
		copy(h.bars, h.bars[1:])
		h.bars[len(h.bars)-1] = c
		return nil
	}
	h.bars = append(h.bars, c)
	return nil
}

// Len returns the number of retained bars.
func (h *History) Len() int { return len(h.bars) }

// Bars returns the retained bars, oldest first. The slice is shared; callers
// must not mutate it.
func (h *History) Bars() []model.Candle { return h.bars }

// Last returns the newest n bars (all of them when fewer are retained).
func (h *History) Last(n int) []model.Candle {
	if n >= len(h.bars) {
		return h.bars
	}
	return h.bars[len(h.bars)-n:]
}

// LastTS returns the newest bar timestamp, zero when empty.
func (h *History) LastTS() time.Time {
	if len(h.bars) == 0 {
		return time.Time{}
	}
	return h.bars[len(h.bars)-1].TS
}
