package trend

import (
	"testing"
	"time"

	"github.com/kenwu020902/MT5-SDS/internal/indicator"
	"github.com/kenwu020902/MT5-SDS/internal/model"
)

func bar(open, high, low, close float64) *model.Candle {
	return &model.Candle{
		Symbol: "EURUSD",
		TS:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 100,
	}
}

func TestConfirm_StrictBoundary(t *testing.T) {
	prev := bar(100, 110, 95, 105) // bullish

	cases := []struct {
		name   string
		open   float64
		strict bool
		want   Verdict
	}{
		{"strict open above prev high", 111, true, VerdictUptrend},
		{"strict open equals prev high", 110, true, VerdictNone},
		{"strict epsilon above prev high", 110.0001, true, VerdictUptrend},
		{"moderate open above prev close", 106, false, VerdictUptrend},
		{"moderate open equals prev close", 105, false, VerdictNone},
		{"moderate open below prev close", 104, false, VerdictNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cur := bar(tc.open, tc.open+5, tc.open-5, tc.open+2)
			got := Confirm(prev, cur, nil, nil, Options{Strict: tc.strict})
			if got != tc.want {
				t.Errorf("open=%.4f strict=%v: got %s, want %s", tc.open, tc.strict, got, tc.want)
			}
		})
	}
}

func TestConfirm_Downtrend(t *testing.T) {
	prev := bar(105, 110, 95, 100) // bearish
	cur := bar(94, 96, 90, 92)

	if got := Confirm(prev, cur, nil, nil, Options{Strict: true}); got != VerdictDowntrend {
		t.Errorf("expected DOWNTREND, got %s", got)
	}
	// Open exactly at prev low does not confirm
	eq := bar(95, 97, 91, 93)
	if got := Confirm(prev, eq, nil, nil, Options{Strict: true}); got != VerdictNone {
		t.Errorf("open==prev.Low strict: expected NONE, got %s", got)
	}
}

func TestConfirm_DojiAndNilBars(t *testing.T) {
	doji := bar(100, 105, 95, 100)
	cur := bar(106, 110, 104, 108)

	if got := Confirm(doji, cur, nil, nil, Options{}); got != VerdictNone {
		t.Errorf("doji previous: expected NONE, got %s", got)
	}
	if got := Confirm(nil, cur, nil, nil, Options{}); got != VerdictNone {
		t.Errorf("nil previous: expected NONE, got %s", got)
	}
	if got := Confirm(doji, nil, nil, nil, Options{}); got != VerdictNone {
		t.Errorf("nil current: expected NONE, got %s", got)
	}
}

func TestConfirm_IndicatorGate(t *testing.T) {
	prev := bar(100, 110, 95, 105)
	cur := bar(111, 116, 109, 114)
	opts := Options{Strict: true, RequireIndicator: true}

	if got := Confirm(prev, cur, nil, nil, opts); got != VerdictNone {
		t.Errorf("absent indicator with RequireIndicator: expected NONE, got %s", got)
	}
	bearish := &indicator.Snapshot{MACDLine: -0.01, SignalLine: 0.01}
	if got := Confirm(prev, cur, bearish, nil, opts); got != VerdictNone {
		t.Errorf("bearish indicator against bullish candles: expected NONE, got %s", got)
	}
	bullish := &indicator.Snapshot{MACDLine: 0.01, SignalLine: -0.01}
	if got := Confirm(prev, cur, bullish, nil, opts); got != VerdictUptrend {
		t.Errorf("agreeing indicator: expected UPTREND, got %s", got)
	}
}

func structWindow(bars ...[4]float64) []model.Candle {
	out := make([]model.Candle, len(bars))
	for i, b := range bars {
		out[i] = *bar(b[0], b[1], b[2], b[3])
	}
	return out
}

func TestStructureValidation(t *testing.T) {
	rising := structWindow(
		[4]float64{100, 105, 99, 104},
		[4]float64{104, 108, 102, 107},
		[4]float64{107, 111, 105, 110},
		[4]float64{110, 114, 108, 113},
	)
	if !IsStructureBullish(rising) {
		t.Error("strictly rising highs/lows must validate bullish structure")
	}
	if IsStructureBearish(rising) {
		t.Error("rising window cannot be bearish structure")
	}

	// One non-monotonic low in the middle breaks the whole window
	broken := structWindow(
		[4]float64{100, 105, 99, 104},
		[4]float64{104, 108, 98, 107}, // low 98 < prior low 99
		[4]float64{107, 111, 105, 110},
		[4]float64{110, 114, 108, 113},
	)
	if IsStructureBullish(broken) {
		t.Error("single non-monotonic low must fail bullish structure")
	}

	// Equal highs are not strictly higher
	flat := structWindow(
		[4]float64{100, 105, 99, 104},
		[4]float64{104, 105, 102, 105},
		[4]float64{105, 109, 103, 108},
		[4]float64{108, 112, 106, 111},
	)
	if IsStructureBullish(flat) {
		t.Error("equal high must fail strict bullish structure")
	}

	if IsStructureBullish(rising[:2]) {
		t.Error("window shorter than 3 bars must fail unconditionally")
	}
	if IsStructureBearish(rising[:1]) {
		t.Error("window shorter than 3 bars must fail unconditionally")
	}
}

func TestConfirm_StructureDowngrade(t *testing.T) {
	prev := bar(100, 110, 95, 105)
	cur := bar(111, 116, 109, 114)

	broken := structWindow(
		[4]float64{100, 110, 95, 105},
		[4]float64{104, 108, 98, 107}, // lower high than prior
		[4]float64{107, 111, 105, 110},
		[4]float64{111, 116, 109, 114},
	)
	if got := Confirm(prev, cur, nil, broken, Options{Strict: true}); got != VerdictNone {
		t.Errorf("failed structure must downgrade to NONE, got %s", got)
	}
}

func TestStrength(t *testing.T) {
	if got := Strength(structWindow(
		[4]float64{1, 2, 0, 1.5},
		[4]float64{1.5, 2.5, 1, 2},
	)); got != 0 {
		t.Errorf("below 10 bars expected 0, got %.2f", got)
	}

	allBullish := make([]model.Candle, 20)
	for i := range allBullish {
		allBullish[i] = *bar(100, 105, 99, 104)
	}
	if got := Strength(allBullish); got != 1.0 {
		t.Errorf("all bullish expected +1, got %.2f", got)
	}
	allBearish := make([]model.Candle, 20)
	for i := range allBearish {
		allBearish[i] = *bar(104, 105, 99, 100)
	}
	if got := Strength(allBearish); got != -1.0 {
		t.Errorf("all bearish expected -1, got %.2f", got)
	}
}

func TestVolatilityExpansion(t *testing.T) {
	prev := bar(100, 102, 98, 101)  // range 4
	wide := bar(101, 105, 98, 104)  // range 7 > 6
	tight := bar(101, 103, 99, 102) // range 4

	if !HasVolatilityExpansion(prev, wide) {
		t.Error("range 7 vs 4 must count as expansion")
	}
	if HasVolatilityExpansion(prev, tight) {
		t.Error("equal range is not expansion")
	}
	if HasVolatilityExpansion(nil, wide) {
		t.Error("nil bars never expand")
	}
}
