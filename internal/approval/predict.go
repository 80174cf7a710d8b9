package approval

// Classification is the short-horizon trend class used to judge pending user
// orders.
type Classification string

const (
	StrongBullish Classification = "STRONG_BULLISH"
	Bullish       Classification = "BULLISH"
	StrongBearish Classification = "STRONG_BEARISH"
	Bearish       Classification = "BEARISH"
	Neutral       Classification = "NEUTRAL"
)

// Thresholds are signed percentages ordered
// strongBullish > bullish > bearish > strongBearish.
type Thresholds struct {
	StrongBullish float64 `yaml:"strong_bullish"`
	Bullish       float64 `yaml:"bullish"`
	Bearish       float64 `yaml:"bearish"`
	StrongBearish float64 `yaml:"strong_bearish"`
}

// DefaultThresholds mirrors the stock configuration: ±0.05% strong, ±0.02%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongBullish: 0.05,
		Bullish:       0.02,
		Bearish:       -0.02,
		StrongBearish: -0.05,
	}
}

// Classify maps a percent change onto a trend class, most-extreme-first:
// the first matching threshold wins.
func Classify(percentChange float64, t Thresholds) Classification {
	switch {
	case percentChange > t.StrongBullish:
		return StrongBullish
	case percentChange > t.Bullish:
		return Bullish
	case percentChange < t.StrongBearish:
		return StrongBearish
	case percentChange < t.Bearish:
		return Bearish
	default:
		return Neutral
	}
}

// priceWindow is a fixed-size sliding window of bar opening prices feeding
// the short-horizon prediction.
type priceWindow struct {
	vals []float64
	max  int
}

func newPriceWindow(max int) *priceWindow {
	if max < 1 {
		max = 1
	}
	return &priceWindow{max: max, vals: make([]float64, 0, max)}
}

// push appends an opening price, evicting the oldest past capacity.
func (w *priceWindow) push(open float64) {
	if len(w.vals) == w.max {
		copy(w.vals, w.vals[1:])
		w.vals[len(w.vals)-1] = open
		return
	}
	w.vals = append(w.vals, open)
}

// average returns the window mean, ok=false when empty.
func (w *priceWindow) average() (float64, bool) {
	if len(w.vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range w.vals {
		sum += v
	}
	return sum / float64(len(w.vals)), true
}

// percentChange is the current price deviation from avg, in percent.
func percentChange(currentPrice, avg float64) float64 {
	if avg == 0 {
		return 0
	}
	return (currentPrice - avg) / avg * 100
}
