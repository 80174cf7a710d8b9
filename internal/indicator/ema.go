// Package indicator provides the MACD/EMA pipeline feeding trend confirmation.
//
// Calculators are pure over an ordered bar history: they return (value, ok)
// and ok=false means "not enough data", never a zero reading. No look-ahead:
// only values at or before the evaluation index contribute.
package indicator

// EMA is a streaming exponential moving average.
// Seeds with a simple average over the first period values, then applies
// ema = (x - prev)*k + prev with k = 2/(period+1). O(1) per update.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next value.
func (e *EMA) Update(x float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += x
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (x-e.current)*e.multiplier + e.current
}

// Value returns the current EMA. Only meaningful once Ready.
func (e *EMA) Value() float64 { return e.current }

// Ready reports whether period values have been accumulated.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// emaSeries computes the EMA over values. The result starts at input index
// period-1: out[k] is the EMA at values[period-1+k]. Returns nil when values
// is shorter than period.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	e := NewEMA(period)
	out := make([]float64, 0, len(values)-period+1)
	for _, v := range values {
		e.Update(v)
		if e.Ready() {
			out = append(out, e.Value())
		}
	}
	return out
}
