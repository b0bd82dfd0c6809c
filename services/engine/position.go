package engine

type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// AccountPosition tracks the held position across fills and accumulates
// realized PnL. The simulator drives it with one entry and one exit fill per
// trade; reducing fills realize, crossing fills flip.
type AccountPosition struct {
	Side        PositionSide
	Quantity    float64
	AvgPrice    float64
	RealizedPnl float64
}

// MarketValue marks the position to a price. Shorts carry negative exposure;
// equity = cash + market value holds on both sides because short proceeds
// are credited to cash at entry.
func (p *AccountPosition) MarketValue(price float64) float64 {
	switch p.Side {
	case SideLong:
		return p.Quantity * price
	case SideShort:
		return -p.Quantity * price
	default:
		return 0
	}
}

// ApplyFill updates the position with a new fill.
func (p *AccountPosition) ApplyFill(side TradeSide, price, qty float64) {
	if qty == 0 {
		return
	}
	if side == TradeSideBuy {
		if p.Side == SideShort {
			realized := (p.AvgPrice - price) * minf(p.Quantity, qty)
			p.RealizedPnl += realized
			p.Quantity -= qty
			if p.Quantity < 0 {
				p.Side = SideLong
				p.AvgPrice = price
				p.Quantity = -p.Quantity
			} else if p.Quantity == 0 {
				p.Side = SideFlat
				p.AvgPrice = 0
			}
		} else {
			p.AvgPrice = weightedAvg(p.AvgPrice, p.Quantity, price, qty)
			p.Quantity += qty
			p.Side = SideLong
		}
	} else {
		if p.Side == SideLong {
			realized := (price - p.AvgPrice) * minf(p.Quantity, qty)
			p.RealizedPnl += realized
			p.Quantity -= qty
			if p.Quantity < 0 {
				p.Side = SideShort
				p.AvgPrice = price
				p.Quantity = -p.Quantity
			} else if p.Quantity == 0 {
				p.Side = SideFlat
				p.AvgPrice = 0
			}
		} else {
			p.AvgPrice = weightedAvg(p.AvgPrice, p.Quantity, price, qty)
			p.Quantity += qty
			p.Side = SideShort
		}
	}
}

func weightedAvg(p1, q1, p2, q2 float64) float64 {
	if q1+q2 == 0 {
		return 0
	}
	return (p1*q1 + p2*q2) / (q1 + q2)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
