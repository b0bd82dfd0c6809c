package engine

// Bar represents a single OHLCV observation. Timestamps are Unix milliseconds.
type Bar struct {
	Timestamp uint64  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// BarSeries is an ordered bar sequence for one instrument. Immutable once
// handed to the engine; gaps are tolerated, never filled.
type BarSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

func NewBarSeries(symbol string, bars []Bar) *BarSeries {
	return &BarSeries{Symbol: symbol, Bars: bars}
}

func (s *BarSeries) Len() int { return len(s.Bars) }

// Validate fails fast on malformed input. The engine does not repair data.
func (s *BarSeries) Validate() error {
	if s == nil || len(s.Bars) == 0 {
		return NewDataError("bar series is empty")
	}
	for i, b := range s.Bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return NewDataError("bar %d (%s): non-positive price", i, s.Symbol)
		}
		if b.Volume < 0 {
			return NewDataError("bar %d (%s): negative volume", i, s.Symbol)
		}
		if b.High < b.Open || b.High < b.Close {
			return NewDataError("bar %d (%s): high below body", i, s.Symbol)
		}
		if b.Low > b.Open || b.Low > b.Close {
			return NewDataError("bar %d (%s): low above body", i, s.Symbol)
		}
		if i > 0 && b.Timestamp <= s.Bars[i-1].Timestamp {
			return NewDataError("bar %d (%s): timestamp %d not strictly increasing", i, s.Symbol, b.Timestamp)
		}
	}
	return nil
}

// Closes returns the close column. Used by indicator kernels.
func (s *BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Slice returns a view of bars [from, to). The underlying array is shared;
// callers must treat it as read-only.
func (s *BarSeries) Slice(from, to int) *BarSeries {
	return &BarSeries{Symbol: s.Symbol, Bars: s.Bars[from:to]}
}

// Signal is a per-bar position target. The discrete states are the weights
// +1 (long), 0 (flat) and -1 (short); weighted strategies may emit any value
// in [-1, 1].
type Signal float64

const (
	SignalLong  Signal = 1
	SignalFlat  Signal = 0
	SignalShort Signal = -1
)

// SignalSeries is aligned 1:1 with a BarSeries.
type SignalSeries []Signal

// Validate checks alignment with a series of n bars and the weight range.
func (ss SignalSeries) Validate(n int) error {
	if len(ss) != n {
		return NewDataError("signal length %d does not match bar length %d", len(ss), n)
	}
	for i, sig := range ss {
		if sig < -1 || sig > 1 {
			return NewDataError("signal %d: weight %v outside [-1,1]", i, float64(sig))
		}
	}
	return nil
}
