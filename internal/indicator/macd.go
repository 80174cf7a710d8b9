package indicator

import (
	"math"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// Snapshot is one MACD reading over a bar history.
type Snapshot struct {
	MACDLine     float64 `json:"macd_line"`
	SignalLine   float64 `json:"signal_line"`
	Histogram    float64 `json:"histogram"`
	FastPeriod   int     `json:"fast_period"`
	SlowPeriod   int     `json:"slow_period"`
	SignalPeriod int     `json:"signal_period"`
}

// IsBullish reports the MACD line above its signal line.
func (s Snapshot) IsBullish() bool { return s.MACDLine > s.SignalLine }

// IsBearish reports the MACD line below its signal line.
func (s Snapshot) IsBearish() bool { return s.MACDLine < s.SignalLine }

// CrossoverValue is the signed macd-to-signal distance.
func (s Snapshot) CrossoverValue() float64 { return s.MACDLine - s.SignalLine }

// MACD computes Moving Average Convergence-Divergence snapshots.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a MACD calculator. Conventional periods are 12/26/9.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		signalPeriod: signalPeriod,
	}
}

// MinHistory is the number of bars required before Compute produces a reading.
func (m *MACD) MinHistory() int { return m.slowPeriod + m.signalPeriod }

// Compute evaluates MACD at the newest bar of history.
// Returns ok=false when history is shorter than MinHistory. Callers must
// treat absence as "no opinion", never as a neutral reading.
func (m *MACD) Compute(history []model.Candle) (Snapshot, bool) {
	if len(history) < m.MinHistory() {
		return Snapshot{}, false
	}

	closes := make([]float64, len(history))
	for i := range history {
		closes[i] = history[i].Close
	}

	fastEMA := emaSeries(closes, m.fastPeriod)
	slowEMA := emaSeries(closes, m.slowPeriod)

	// MACD line exists where both EMAs are defined, i.e. from input index
	// slowPeriod-1 onward. fastEMA is longer; align by trailing offset.
	offset := len(fastEMA) - len(slowEMA)
	macdLine := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macdLine[i] = fastEMA[offset+i] - slowEMA[i]
	}

	signalLine := emaSeries(macdLine, m.signalPeriod)
	if len(signalLine) == 0 {
		return Snapshot{}, false
	}

	macd := macdLine[len(macdLine)-1]
	signal := signalLine[len(signalLine)-1]
	return Snapshot{
		MACDLine:     macd,
		SignalLine:   signal,
		Histogram:    macd - signal,
		FastPeriod:   m.fastPeriod,
		SlowPeriod:   m.slowPeriod,
		SignalPeriod: m.signalPeriod,
	}, true
}

// BullishCrossover reports the MACD line crossing above its signal line
// between two consecutive snapshots.
func BullishCrossover(prev, cur Snapshot) bool {
	return prev.IsBearish() && cur.IsBullish()
}

// BearishCrossover reports the MACD line crossing below its signal line.
func BearishCrossover(prev, cur Snapshot) bool {
	return prev.IsBullish() && cur.IsBearish()
}

// HistogramRising reports momentum building between two snapshots.
func HistogramRising(prev, cur Snapshot) bool {
	return cur.Histogram > prev.Histogram
}

// HistogramFalling reports momentum fading between two snapshots.
func HistogramFalling(prev, cur Snapshot) bool {
	return cur.Histogram < prev.Histogram
}

// CrossoverStrength is the absolute macd-to-signal distance.
func CrossoverStrength(s Snapshot) float64 {
	return math.Abs(s.CrossoverValue())
}
