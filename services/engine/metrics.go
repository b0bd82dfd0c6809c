package engine

// Metrics calculation. Pure derivation from the equity curve and trade
// ledger; every numeric degeneracy has an explicit finite fallback so NaN and
// Inf can never reach a published record.

import "math"

// TradingDaysPerYear fixes the annualization convention. Bars are treated as
// daily steps.
const TradingDaysPerYear = 252.0

// ProfitFactorSentinel is reported when there are gains and no losing
// trades, where the ratio is conceptually infinite.
const ProfitFactorSentinel = 999.0

// ComputeMetrics derives the performance record for a result. It is a pure
// function: identical inputs always produce identical output, and the result
// itself is never modified.
func ComputeMetrics(result *BacktestResult, riskFreeRate float64) PerformanceMetrics {
	var m PerformanceMetrics
	if result == nil || len(result.EquityCurve) == 0 || result.InitialCapital <= 0 {
		return m
	}

	curve := result.EquityCurve
	m.TotalReturn = curve.Final()/result.InitialCapital - 1
	m.AnnualizedReturn = annualize(m.TotalReturn, len(curve))
	m.MaxDrawdown, m.MaxDrawdownDuration = maxDrawdown(curve)

	returns := curve.Returns()
	rfDaily := riskFreeRate / TradingDaysPerYear
	m.SharpeRatio = sharpe(returns, rfDaily)
	m.SortinoRatio = sortino(returns, rfDaily)

	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	fillTradeStats(&m, result.Trades)

	m.Exposure = float64(result.BarsInPosition) / float64(len(curve))

	sanitizeMetrics(&m)
	return m
}

func annualize(totalReturn float64, bars int) float64 {
	if bars == 0 {
		return 0
	}
	growth := 1 + totalReturn
	if growth <= 0 {
		// capital wiped out; the compounded rate is a full loss
		return -1
	}
	return math.Pow(growth, TradingDaysPerYear/float64(bars)) - 1
}

// maxDrawdown returns the worst peak-to-trough decline as a fraction of the
// peak, clamped to [0,1], and the longest run of bars spent below a peak.
func maxDrawdown(curve EquityCurve) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	maxDur, curDur := 0, 0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if p.Equity < peak && peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > 1 {
				dd = 1
			}
			if dd > maxDD {
				maxDD = dd
			}
			curDur++
			if curDur > maxDur {
				maxDur = curDur
			}
		} else {
			curDur = 0
		}
	}
	return maxDD, maxDur
}

// sharpe uses population standard deviation over per-bar returns and
// annualizes by sqrt(252). Zero dispersion reports 0, not NaN.
func sharpe(returns []float64, rfDaily float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := meanOf(returns)
	sd := stdDev(returns, mean)
	if sd == 0 {
		return 0
	}
	return (mean - rfDaily) / sd * math.Sqrt(TradingDaysPerYear)
}

// sortino keeps the sharpe numerator but penalizes only downside dispersion;
// a run with no negative returns reports 0.
func sortino(returns []float64, rfDaily float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	dsd := stdDev(downside, meanOf(downside))
	if dsd == 0 {
		return 0
	}
	mean := meanOf(returns)
	return (mean - rfDaily) / dsd * math.Sqrt(TradingDaysPerYear)
}

func fillTradeStats(m *PerformanceMetrics, trades []Trade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	wins, losses := 0, 0
	grossGain, grossLoss := 0.0, 0.0
	for _, t := range trades {
		switch {
		case t.NetPnL > 0:
			wins++
			grossGain += t.NetPnL
		case t.NetPnL < 0:
			losses++
			grossLoss += -t.NetPnL
		}
	}

	m.WinRate = float64(wins) / float64(len(trades))
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossGain / grossLoss
	case grossGain > 0:
		m.ProfitFactor = ProfitFactorSentinel
	}
	if wins > 0 {
		m.AvgWin = grossGain / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = -grossLoss / float64(losses)
	}
	m.Expectancy = m.WinRate*m.AvgWin + (1-m.WinRate)*m.AvgLoss
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	acc := 0.0
	for _, x := range xs {
		d := x - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// sanitizeMetrics zeroes any NaN or Inf that slipped through a guard before
// the record is published.
func sanitizeMetrics(m *PerformanceMetrics) {
	for _, f := range []*float64{
		&m.TotalReturn, &m.AnnualizedReturn, &m.SharpeRatio, &m.SortinoRatio,
		&m.CalmarRatio, &m.MaxDrawdown, &m.WinRate, &m.ProfitFactor,
		&m.AvgWin, &m.AvgLoss, &m.Expectancy, &m.Exposure,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}
