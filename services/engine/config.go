package engine

// SimConfig parameterizes one simulation run.
//
// Sizing is fixed-fractional: the position notional opened for a signal of
// weight w is |w| * SizingFraction * current equity. Commission is charged on
// every fill, flat plus ad valorem; slippage moves every fill price in the
// adverse direction. TakeProfitPct/StopLossPct enable the intrabar
// first-touch overlay; zero leaves it off.
type SimConfig struct {
	InitialCapital     float64 `json:"initial_capital"`
	CommissionPerTrade float64 `json:"commission_per_trade"` // flat, per fill
	CommissionPct      float64 `json:"commission_pct"`       // fraction of fill notional
	SlippagePct        float64 `json:"slippage_pct"`         // fraction, adverse
	SizingFraction     float64 `json:"sizing_fraction"`      // 0 means default 1.0
	TakeProfitPct      float64 `json:"take_profit_pct"`      // 0 disables
	StopLossPct        float64 `json:"stop_loss_pct"`        // 0 disables
}

// WithDefaults fills the optional fields without touching validated ones.
func (c SimConfig) WithDefaults() SimConfig {
	if c.SizingFraction == 0 {
		c.SizingFraction = 1.0
	}
	return c
}

// Validate enforces the config contract. Violations are ConfigErrors and are
// never silently corrected.
func (c SimConfig) Validate() error {
	if c.InitialCapital <= 0 {
		return NewConfigError("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.CommissionPerTrade < 0 {
		return NewConfigError("flat commission must be non-negative, got %v", c.CommissionPerTrade)
	}
	if c.CommissionPct < 0 {
		return NewConfigError("percent commission must be non-negative, got %v", c.CommissionPct)
	}
	if c.SlippagePct < 0 {
		return NewConfigError("slippage must be non-negative, got %v", c.SlippagePct)
	}
	if c.SizingFraction < 0 || c.SizingFraction > 1 {
		return NewConfigError("sizing fraction must be in (0,1], got %v", c.SizingFraction)
	}
	if c.TakeProfitPct < 0 || c.StopLossPct < 0 {
		return NewConfigError("take-profit and stop-loss must be non-negative")
	}
	return nil
}
