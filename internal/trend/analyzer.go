// Package trend derives a directional trend verdict from price action,
// optionally corroborated by a MACD snapshot and market structure.
//
// All functions are pure: absent inputs produce VerdictNone, never a panic.
// Comparisons are strict inequalities throughout: an open exactly equal to
// the previous high does not confirm.
package trend

import (
	"github.com/kenwu020902/MT5-SDS/internal/indicator"
	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// Verdict is the directional trend conclusion.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictUptrend
	VerdictDowntrend
)

func (v Verdict) String() string {
	switch v {
	case VerdictUptrend:
		return "UPTREND"
	case VerdictDowntrend:
		return "DOWNTREND"
	default:
		return "NONE"
	}
}

// Options controls confirmation strictness.
type Options struct {
	// Strict requires the current open beyond the previous extreme
	// (high/low) instead of the previous close.
	Strict bool

	// RequireIndicator demands a present, direction-agreeing MACD snapshot.
	RequireIndicator bool
}

// Confirm evaluates a two-bar trend confirmation.
// snap may be nil (no indicator opinion); window may be nil (no structure
// validation). A structure window that fails validation downgrades the
// tentative verdict to VerdictNone.
func Confirm(prev, cur *model.Candle, snap *indicator.Snapshot, window []model.Candle, opts Options) Verdict {
	if prev == nil || cur == nil {
		return VerdictNone
	}

	tentative := VerdictNone
	switch {
	case prev.IsBullish():
		candleOK := cur.Open > prev.Close
		if opts.Strict {
			candleOK = cur.Open > prev.High
		}
		indicatorOK := !opts.RequireIndicator || (snap != nil && snap.IsBullish())
		if candleOK && indicatorOK {
			tentative = VerdictUptrend
		}
	case prev.IsBearish():
		candleOK := cur.Open < prev.Close
		if opts.Strict {
			candleOK = cur.Open < prev.Low
		}
		indicatorOK := !opts.RequireIndicator || (snap != nil && snap.IsBearish())
		if candleOK && indicatorOK {
			tentative = VerdictDowntrend
		}
	default:
		// Doji previous bar: no directional information
		return VerdictNone
	}

	if tentative == VerdictNone || window == nil {
		return tentative
	}

	switch tentative {
	case VerdictUptrend:
		if !IsStructureBullish(window) {
			return VerdictNone
		}
	case VerdictDowntrend:
		if !IsStructureBearish(window) {
			return VerdictNone
		}
	}
	return tentative
}

// IsStructureBullish reports strictly higher highs AND higher lows across the
// window, oldest to newest. The newest pair is excluded: the most recent bar
// is still forming when confirmation runs. Windows shorter than 3 bars fail
// unconditionally.
func IsStructureBullish(window []model.Candle) bool {
	if len(window) < 3 {
		return false
	}
	for i := 1; i < len(window)-1; i++ {
		if window[i].High <= window[i-1].High {
			return false
		}
		if window[i].Low <= window[i-1].Low {
			return false
		}
	}
	return true
}

// IsStructureBearish reports strictly lower highs AND lower lows across the
// window, with the same boundary exclusion as IsStructureBullish.
func IsStructureBearish(window []model.Candle) bool {
	if len(window) < 3 {
		return false
	}
	for i := 1; i < len(window)-1; i++ {
		if window[i].High >= window[i-1].High {
			return false
		}
		if window[i].Low >= window[i-1].Low {
			return false
		}
	}
	return true
}

// Strength scores the last 20 bars (or fewer) into [-1, +1]:
// -1 all bearish, +1 all bullish. Returns 0 below 10 bars.
func Strength(window []model.Candle) float64 {
	if len(window) < 10 {
		return 0
	}
	total := len(window)
	if total > 20 {
		total = 20
	}
	bullish := 0
	for i := len(window) - total; i < len(window); i++ {
		if window[i].IsBullish() {
			bullish++
		}
	}
	ratio := float64(bullish) / float64(total)
	return (ratio - 0.5) * 2
}

// HasVolatilityExpansion reports the current bar ranging at least 1.5x the
// previous bar.
func HasVolatilityExpansion(prev, cur *model.Candle) bool {
	if prev == nil || cur == nil {
		return false
	}
	return cur.Range() > prev.Range()*1.5
}
