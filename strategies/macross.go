package strategies

import (
	"math"

	"quantsim/services/engine"
)

// MACross is the classic dual moving-average trend follower: long while the
// fast EMA is above the slow, short while below. The slower warmup window
// governs how many leading bars stay flat.
type MACross struct {
	Fast int
	Slow int
}

// NewMACross builds the strategy from {fast_period, slow_period}.
func NewMACross(p Params) (Strategy, error) {
	s := &MACross{
		Fast: p.GetInt("fast_period", 12),
		Slow: p.GetInt("slow_period", 26),
	}
	if s.Fast < 1 || s.Slow < 1 {
		return nil, engine.NewConfigError("ma_cross: periods must be >= 1, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.Fast >= s.Slow {
		return nil, engine.NewConfigError("ma_cross: fast_period %d must be below slow_period %d", s.Fast, s.Slow)
	}
	return s, nil
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) Signals(bars *engine.BarSeries) (engine.SignalSeries, error) {
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	closes := bars.Closes()
	fast := engine.EMA(closes, s.Fast)
	slow := engine.EMA(closes, s.Slow)

	out := make(engine.SignalSeries, len(closes))
	for i := range closes {
		switch {
		case math.IsNaN(fast[i]) || math.IsNaN(slow[i]):
			out[i] = engine.SignalFlat
		case fast[i] > slow[i]:
			out[i] = engine.SignalLong
		case fast[i] < slow[i]:
			out[i] = engine.SignalShort
		default:
			out[i] = engine.SignalFlat
		}
	}
	return out, nil
}
