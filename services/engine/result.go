package engine

// Exit reasons recorded on the trade ledger.
const (
	ExitReasonSignal     = "signal"
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
)

// Trade is one closed round trip. Entry and exit prices are actual fills,
// slippage included; gross PnL is measured against the un-slipped reference
// prices, net PnL against the fills minus commissions.
type Trade struct {
	Symbol         string       `json:"symbol"`
	EntryTimestamp uint64       `json:"entry_timestamp"`
	ExitTimestamp  uint64       `json:"exit_timestamp"`
	Direction      PositionSide `json:"direction"`
	EntryPrice     float64      `json:"entry_price"`
	ExitPrice      float64      `json:"exit_price"`
	Size           float64      `json:"size"`
	GrossPnL       float64      `json:"gross_pnl"`
	NetPnL         float64      `json:"net_pnl"`
	ReturnPct      float64      `json:"return_pct"`
	ExitReason     string       `json:"exit_reason"`
	Bars           int          `json:"bars"`
}

// EquityPoint is one mark of total account value, taken at the bar close.
type EquityPoint struct {
	Timestamp uint64  `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

type EquityCurve []EquityPoint

// Returns computes per-step fractional changes of the curve.
func (c EquityCurve) Returns() []float64 {
	if len(c) < 2 {
		return nil
	}
	out := make([]float64, 0, len(c)-1)
	for i := 1; i < len(c); i++ {
		prev := c[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, c[i].Equity/prev-1)
	}
	return out
}

// Final returns the last equity mark, or 0 for an empty curve.
func (c EquityCurve) Final() float64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].Equity
}

// PerformanceMetrics is pure derived data, always recomputed from a result's
// equity curve and trade ledger. No field may ever hold NaN or Inf.
type PerformanceMetrics struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	TotalTrades         int     `json:"total_trades"`
	AvgWin              float64 `json:"avg_win"`
	AvgLoss             float64 `json:"avg_loss"`
	Expectancy          float64 `json:"expectancy"`
	Exposure            float64 `json:"exposure"`
}

// BacktestResult is produced once per (strategy, parameters, series) triple
// and never mutated afterwards.
type BacktestResult struct {
	Symbol         string              `json:"symbol"`
	Config         SimConfig           `json:"config"`
	InitialCapital float64             `json:"initial_capital"`
	FinalEquity    float64             `json:"final_equity"`
	EquityCurve    EquityCurve         `json:"equity_curve"`
	Trades         []Trade             `json:"trades"`
	Events         *EventLog           `json:"events,omitempty"`
	BarsInPosition int                 `json:"bars_in_position"`
	Metrics        *PerformanceMetrics `json:"metrics,omitempty"`
}
