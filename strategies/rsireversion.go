package strategies

import (
	"math"

	"quantsim/services/engine"
)

// RSIReversion fades extremes of the Wilder RSI: long below the lower bound,
// short above the upper, flat in the neutral band between.
type RSIReversion struct {
	Period int
	Lower  float64
	Upper  float64
}

// NewRSIReversion builds the strategy from {period, lower, upper}.
func NewRSIReversion(p Params) (Strategy, error) {
	s := &RSIReversion{
		Period: p.GetInt("period", 14),
		Lower:  p.Get("lower", 30),
		Upper:  p.Get("upper", 70),
	}
	if s.Period < 1 {
		return nil, engine.NewConfigError("rsi_reversion: period must be >= 1, got %d", s.Period)
	}
	if s.Lower < 0 || s.Upper > 100 || s.Lower >= s.Upper {
		return nil, engine.NewConfigError("rsi_reversion: bounds must satisfy 0 <= lower < upper <= 100, got [%v, %v]", s.Lower, s.Upper)
	}
	return s, nil
}

func (s *RSIReversion) Name() string { return "rsi_reversion" }

func (s *RSIReversion) Signals(bars *engine.BarSeries) (engine.SignalSeries, error) {
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	rsi := engine.RSI(bars.Closes(), s.Period)

	out := make(engine.SignalSeries, len(rsi))
	for i, v := range rsi {
		switch {
		case math.IsNaN(v):
			out[i] = engine.SignalFlat
		case v < s.Lower:
			out[i] = engine.SignalLong
		case v > s.Upper:
			out[i] = engine.SignalShort
		default:
			out[i] = engine.SignalFlat
		}
	}
	return out, nil
}
