package engine

// Commission and slippage models applied at fill boundaries.

type TradeSide int

const (
	TradeSideBuy TradeSide = iota
	TradeSideSell
)

func (s TradeSide) String() string {
	if s == TradeSideBuy {
		return "BUY"
	}
	return "SELL"
}

// FeeModel computes the commission for one fill.
type FeeModel interface {
	Compute(price, qty float64) float64
}

// FlatPlusPctFee charges a flat amount plus a fraction of the fill notional.
type FlatPlusPctFee struct {
	Flat float64
	Pct  float64
}

func (m FlatPlusPctFee) Compute(price, qty float64) float64 {
	return m.Flat + price*qty*m.Pct
}

// SlippageModel adjusts a reference price into a fill price.
type SlippageModel interface {
	Apply(side TradeSide, price float64) float64
}

// AdversePctSlippage moves the fill against the taker: buys fill higher,
// sells fill lower.
type AdversePctSlippage struct {
	Pct float64
}

func (s AdversePctSlippage) Apply(side TradeSide, price float64) float64 {
	if side == TradeSideBuy {
		return price * (1 + s.Pct)
	}
	return price * (1 - s.Pct)
}

func (c SimConfig) feeModel() FeeModel {
	return FlatPlusPctFee{Flat: c.CommissionPerTrade, Pct: c.CommissionPct}
}

func (c SimConfig) slippageModel() SlippageModel {
	return AdversePctSlippage{Pct: c.SlippagePct}
}
