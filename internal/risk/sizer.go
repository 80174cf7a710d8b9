// Package risk maps trend verdicts into risk-bounded order parameters:
// stop and target prices from a configured buffer and reward ratio, and a
// position size capped by a per-trade risk fraction of the account balance.
package risk

import "math"

// Config holds the sizing inputs. Read-only after startup.
type Config struct {
	// RiskPerTrade is the fraction of the account balance put at risk per
	// trade, e.g. 0.02 for 2%. Valid range (0, 0.1].
	RiskPerTrade float64 `yaml:"risk_per_trade"`

	// RewardRatio is the target distance as a multiple of the stop distance.
	RewardRatio float64 `yaml:"reward_ratio"`

	// StopLossBuffer is the entry-to-stop distance in price units.
	StopLossBuffer float64 `yaml:"stop_loss_buffer"`

	// MaxPositionSize caps the computed size in lots.
	MaxPositionSize float64 `yaml:"max_position_size"`
}

// Sizer derives position size and stop/target levels.
type Sizer struct {
	cfg Config
}

// NewSizer creates a Sizer from cfg.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// PositionSize computes a risk-bounded size.
// riskAmount = balance * riskFraction; perUnitRisk = |entry - stop|.
// Zero stop distance returns 0: "cannot size, no stop distance".
func PositionSize(entry, stop, balance, riskFraction, maxSize float64) float64 {
	perUnitRisk := math.Abs(entry - stop)
	if perUnitRisk == 0 {
		return 0
	}
	size := balance * riskFraction / perUnitRisk
	return math.Min(size, maxSize)
}

// Size applies the configured risk fraction and cap to the given trade.
func (s *Sizer) Size(entry, stop, balance float64) float64 {
	return PositionSize(entry, stop, balance, s.cfg.RiskPerTrade, s.cfg.MaxPositionSize)
}

// LongLevels returns (stop, target) for a buy at entry.
func (s *Sizer) LongLevels(entry float64) (stop, target float64) {
	stop = entry - s.cfg.StopLossBuffer
	target = entry + (entry-stop)*s.cfg.RewardRatio
	return stop, target
}

// ShortLevels returns (stop, target) for a sell at entry.
func (s *Sizer) ShortLevels(entry float64) (stop, target float64) {
	stop = entry + s.cfg.StopLossBuffer
	target = entry - (stop-entry)*s.cfg.RewardRatio
	return stop, target
}
