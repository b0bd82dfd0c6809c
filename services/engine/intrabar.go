package engine

// Intrabar TP/SL resolution. Within one bar the synthetic path is
// open -> nearer extremum -> other extremum -> close; when both levels sit
// inside the same bar, the extremum closer to the open is touched first.

// FirstTouchResult indicates which level was hit first.
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

// ResolveFirstTouchLong determines TP/SL hit order for a long position.
func ResolveFirstTouchLong(bar Bar, tp, sl float64) FirstTouchResult {
	both := bar.Low <= sl && bar.High >= tp
	if both {
		distHigh := abs(bar.High - bar.Open)
		distLow := abs(bar.Open - bar.Low)
		if distLow < distHigh {
			return TouchSL
		}
		return TouchTP
	}
	if bar.Low <= sl {
		return TouchSL
	}
	if bar.High >= tp {
		return TouchTP
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic for shorts: the take-profit
// sits below the entry, the stop above.
func ResolveFirstTouchShort(bar Bar, tp, sl float64) FirstTouchResult {
	both := bar.High >= sl && bar.Low <= tp
	if both {
		distHigh := abs(bar.High - bar.Open)
		distLow := abs(bar.Open - bar.Low)
		if distHigh < distLow {
			return TouchSL
		}
		return TouchTP
	}
	if bar.High >= sl {
		return TouchSL
	}
	if bar.Low <= tp {
		return TouchTP
	}
	return TouchNone
}

// FillPriceStop returns the execution price for a triggered stop: the stop
// itself, or the open when the bar gapped through it.
func FillPriceStop(side TradeSide, stop float64, bar Bar) float64 {
	if side == TradeSideSell { // long stop sits below
		if bar.Open <= stop {
			return bar.Open
		}
		return stop
	}
	// short stop sits above, exit is a buy
	if bar.Open >= stop {
		return bar.Open
	}
	return stop
}

// FillPriceLimit returns the execution price for a touched limit; a gap
// through the limit fills at the (improved) open.
func FillPriceLimit(side TradeSide, limit float64, bar Bar) float64 {
	if side == TradeSideSell { // long take-profit sits above
		if bar.Open >= limit {
			return bar.Open
		}
		return limit
	}
	// short take-profit sits below, exit is a buy
	if bar.Open <= limit {
		return bar.Open
	}
	return limit
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
