// Package montecarlo bootstraps the return stream of a finished backtest to
// put confidence bands around its headline number. Each iteration resamples
// the source returns with replacement, compounds them into a path and records
// the path's total return; the sorted totals form the outcome distribution.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"quantsim/services/engine"
)

// MinTradeResample is the trade count below which per-trade resampling is
// too coarse and the simulator falls back to per-bar equity returns.
const MinTradeResample = 20

// Unit names what one resampled draw is.
type Unit string

const (
	UnitTradeReturns Unit = "trade_returns"
	UnitBarReturns   Unit = "bar_returns"
)

// Result is the bootstrap summary. Distribution holds every surviving path
// total, sorted ascending; the percentile fields are read from it by linear
// interpolation. Empirical is the original backtest's total return for
// comparison against the band.
type Result struct {
	Simulations int     `json:"simulations"`
	Seed        int64   `json:"seed"`
	Unit        Unit    `json:"unit"`
	Draws       int     `json:"draws_per_path"`
	Empirical   float64 `json:"empirical_return"`
	Mean        float64 `json:"mean_return"`
	P5          float64 `json:"p5_return"`
	P50         float64 `json:"p50_return"`
	P95         float64 `json:"p95_return"`
	ProbLoss    float64 `json:"prob_loss"`
	DrawdownP95 float64 `json:"drawdown_p95"`
	FailedDraws int     `json:"failed_draws,omitempty"`

	Distribution []float64 `json:"distribution"`
}

// Options carries pool sizing and logging for a simulation.
type Options struct {
	Workers int // 0 means runtime.NumCPU()
	Logger  *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) workerCount(jobs int) int {
	n := o.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run resamples the given result numSimulations times. Reproducibility is
// absolute for a fixed seed: iteration i draws from its own generator seeded
// with seed+i, so worker scheduling cannot reorder the random stream.
// Iterations producing a non-finite total are dropped and counted; the run
// fails only when every iteration does.
func Run(ctx context.Context, result *engine.BacktestResult, numSimulations int, seed int64, opts Options) (*Result, error) {
	log := opts.logger()
	if numSimulations <= 0 {
		return nil, engine.NewConfigError("simulations must be positive, got %d", numSimulations)
	}
	returns, unit, err := sourceReturns(result)
	if err != nil {
		return nil, err
	}

	totals := make([]float64, numSimulations)
	dds := make([]float64, numSimulations)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workerCount(numSimulations); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					totals[i] = math.NaN()
					continue
				}
				totals[i], dds[i] = resamplePath(returns, seed+int64(i))
			}
		}()
	}
feed:
	for i := 0; i < numSimulations; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dist := make([]float64, 0, numSimulations)
	ddOK := make([]float64, 0, numSimulations)
	for i, v := range totals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		dist = append(dist, v)
		ddOK = append(ddOK, dds[i])
	}
	if len(dist) == 0 {
		return nil, engine.NewAnalysisFailedError("all %d resampling iterations failed", numSimulations)
	}
	sort.Float64s(dist)
	sort.Float64s(ddOK)

	losses := 0
	sum := 0.0
	for _, v := range dist {
		sum += v
		if v < 0 {
			losses++
		}
	}

	out := &Result{
		Simulations:  numSimulations,
		Seed:         seed,
		Unit:         unit,
		Draws:        len(returns),
		Empirical:    result.FinalEquity/result.InitialCapital - 1,
		Mean:         sum / float64(len(dist)),
		P5:           percentile(dist, 0.05),
		P50:          percentile(dist, 0.50),
		P95:          percentile(dist, 0.95),
		ProbLoss:     float64(losses) / float64(len(dist)),
		DrawdownP95:  percentile(ddOK, 0.95),
		FailedDraws:  numSimulations - len(dist),
		Distribution: dist,
	}
	log.Info("monte carlo complete",
		zap.String("symbol", result.Symbol),
		zap.Int("simulations", numSimulations),
		zap.String("unit", string(unit)),
		zap.Int64("seed", seed),
		zap.Float64("p5", out.P5),
		zap.Float64("p95", out.P95))
	return out, nil
}

// sourceReturns picks the resampling unit: closed-trade returns when the
// ledger is deep enough, per-bar equity returns otherwise. Non-finite source
// values are scrubbed before sampling.
func sourceReturns(result *engine.BacktestResult) ([]float64, Unit, error) {
	if result == nil || result.InitialCapital <= 0 {
		return nil, "", engine.NewDataError("monte carlo needs a finished backtest result")
	}
	if len(result.Trades) >= MinTradeResample {
		rs := finite(tradeReturns(result.Trades))
		if len(rs) >= MinTradeResample {
			return rs, UnitTradeReturns, nil
		}
	}
	rs := finite(result.EquityCurve.Returns())
	if len(rs) == 0 {
		return nil, "", engine.NewDataError("result has no resamplable returns: %d trades, %d equity points",
			len(result.Trades), len(result.EquityCurve))
	}
	return rs, UnitBarReturns, nil
}

func tradeReturns(trades []engine.Trade) []float64 {
	out := make([]float64, len(trades))
	for i, tr := range trades {
		out[i] = tr.ReturnPct
	}
	return out
}

func finite(xs []float64) []float64 {
	out := xs[:0:0]
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// resamplePath draws len(returns) samples with replacement and compounds
// them, tracking the path's max drawdown along the way.
func resamplePath(returns []float64, seed int64) (total, maxDD float64) {
	rng := rand.New(rand.NewSource(seed))
	eq := 1.0
	peak := 1.0
	for range returns {
		eq *= 1 + returns[rng.Intn(len(returns))]
		if eq > peak {
			peak = eq
		} else if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return eq - 1, maxDD
}

// percentile reads p from an ascending-sorted sample by linear interpolation
// between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
