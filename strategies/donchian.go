package strategies

import (
	"math"

	"quantsim/services/engine"
)

// DonchianBreakout trades channel breakouts: long when the close clears the
// prior period's highest high, short when it falls through the lowest low,
// and exits to flat once the close crosses back over the channel basis
// (the midline). The channel is built strictly from preceding bars so a
// breakout can never reference its own bar.
type DonchianBreakout struct {
	Period int
}

// NewDonchianBreakout builds the strategy from {period}.
func NewDonchianBreakout(p Params) (Strategy, error) {
	s := &DonchianBreakout{Period: p.GetInt("period", 20)}
	if s.Period < 1 {
		return nil, engine.NewConfigError("donchian_breakout: period must be >= 1, got %d", s.Period)
	}
	return s, nil
}

func (s *DonchianBreakout) Name() string { return "donchian_breakout" }

func (s *DonchianBreakout) Signals(bars *engine.BarSeries) (engine.SignalSeries, error) {
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	upper := engine.HighestHigh(bars.Bars, s.Period)
	lower := engine.LowestLow(bars.Bars, s.Period)

	out := make(engine.SignalSeries, bars.Len())
	stance := engine.SignalFlat
	for i := range bars.Bars {
		if i == 0 || math.IsNaN(upper[i-1]) || math.IsNaN(lower[i-1]) {
			out[i] = engine.SignalFlat
			continue
		}
		close := bars.Bars[i].Close
		basis := (upper[i-1] + lower[i-1]) / 2

		switch stance {
		case engine.SignalLong:
			if close < basis {
				stance = engine.SignalFlat
			}
		case engine.SignalShort:
			if close > basis {
				stance = engine.SignalFlat
			}
		}
		if close > upper[i-1] {
			stance = engine.SignalLong
		} else if close < lower[i-1] {
			stance = engine.SignalShort
		}
		out[i] = stance
	}
	return out, nil
}
