package strategies

import "quantsim/services/engine"

// BuyHold holds a constant long weight for the whole series. It is the
// degenerate baseline: one entry and no exit, so the trade ledger stays
// empty and the curve is pure mark-to-market after the first fill.
type BuyHold struct {
	Weight float64
}

// NewBuyHold builds the baseline from {weight} (default full allocation).
func NewBuyHold(p Params) (Strategy, error) {
	s := &BuyHold{Weight: p.Get("weight", 1)}
	if s.Weight <= 0 || s.Weight > 1 {
		return nil, engine.NewConfigError("buy_hold: weight must be in (0, 1], got %v", s.Weight)
	}
	return s, nil
}

func (s *BuyHold) Name() string { return "buy_hold" }

func (s *BuyHold) Signals(bars *engine.BarSeries) (engine.SignalSeries, error) {
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	out := make(engine.SignalSeries, bars.Len())
	for i := range out {
		out[i] = engine.Signal(s.Weight)
	}
	return out, nil
}
