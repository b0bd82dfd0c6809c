// Package optimize searches strategy parameter spaces over a single bar
// series. A grid search is an exhaustive sweep: every combination in the grid
// is simulated, scored by one named metric and ranked. The package also ranks
// fixed strategy/parameter pairs against each other (Compare).
package optimize

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"quantsim/services/engine"
	"quantsim/strategies"
)

// Grid maps a parameter name to the candidate values tried for it. The
// search expands the full cartesian product; no pruning.
type Grid map[string][]float64

// Combinations expands the grid deterministically: parameter names in sorted
// order, values in the order given, the last name varying fastest. The same
// grid always yields the same combination sequence.
func (g Grid) Combinations() ([]strategies.Params, error) {
	if len(g) == 0 {
		return nil, engine.NewConfigError("parameter grid is empty")
	}
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 1
	for _, name := range names {
		if len(g[name]) == 0 {
			return nil, engine.NewConfigError("parameter %q has no candidate values", name)
		}
		total *= len(g[name])
	}

	combos := make([]strategies.Params, 0, total)
	idx := make([]int, len(names))
	for {
		p := make(strategies.Params, len(names))
		for i, name := range names {
			p[name] = g[name][idx[i]]
		}
		combos = append(combos, p)

		i := len(names) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g[names[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return combos, nil
}

// Evaluation is the scored outcome of one parameter combination. A failed
// evaluation ranks as if its score were negative infinity; Score itself is
// left at zero so the record stays JSON-encodable.
type Evaluation struct {
	Rank    int                       `json:"rank"`
	Params  strategies.Params         `json:"params"`
	Score   float64                   `json:"score"`
	Metrics engine.PerformanceMetrics `json:"metrics"`
	Failed  bool                      `json:"failed,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// Result is the ranked outcome of a grid search. Evaluations holds every
// combination, best first; only the winner's full simulation is retained.
type Result struct {
	RankMetric  string                    `json:"rank_metric"`
	BestParams  strategies.Params         `json:"best_params"`
	BestMetrics engine.PerformanceMetrics `json:"best_metrics"`
	Best        *engine.BacktestResult    `json:"best_result,omitempty"`
	Evaluations []Evaluation              `json:"evaluations"`
	Failures    int                       `json:"failures"`
}

// Options carries the shared simulation settings for a search.
type Options struct {
	Sim          engine.SimConfig
	RiskFreeRate float64
	Workers      int // 0 means runtime.NumCPU()
	Logger       *zap.Logger
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

// GridSearch evaluates every combination of grid on bars and ranks the
// outcomes by rankMetric, descending, ties broken by lower max drawdown.
// Combinations run concurrently on a bounded worker pool; ctx cancels
// between evaluations, never inside one. A combination whose strategy
// construction, signal generation or simulation fails is recorded as a
// failed evaluation and does not abort the search; the search itself fails
// only when every combination does.
func GridSearch(ctx context.Context, bars *engine.BarSeries, factory strategies.Factory, grid Grid, rankMetric string, opts Options) (*Result, error) {
	log := opts.logger()
	if factory == nil {
		return nil, engine.NewConfigError("nil strategy factory")
	}
	if rankMetric == "" {
		rankMetric = "sharpe_ratio"
	}
	if _, err := MetricValue(engine.PerformanceMetrics{}, rankMetric); err != nil {
		return nil, err
	}
	cfg := opts.Sim.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	combos, err := grid.Combinations()
	if err != nil {
		return nil, err
	}

	evals := make([]Evaluation, len(combos))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workerCount(len(combos)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				evals[i] = evaluate(bars, factory, combos[i], cfg, opts.RiskFreeRate, rankMetric)
			}
		}()
	}
feed:
	for i := range combos {
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

	failures := 0
	firstErr := ""
	for i := range evals {
		if evals[i].Failed {
			failures++
			if firstErr == "" {
				firstErr = evals[i].Error
			}
		}
	}
	if failures == len(evals) {
		return nil, engine.NewOptimizationFailedError("all %d combinations failed, first: %s", len(evals), firstErr)
	}

	rank(evals)

	best := evals[0]
	bestResult, err := runOnce(bars, factory, best.Params, cfg, opts.RiskFreeRate)
	if err != nil {
		// Cannot happen for a combination that just evaluated cleanly.
		return nil, engine.NewOptimizationFailedError("re-running best combination: %v", err)
	}
	log.Info("grid search complete",
		zap.String("symbol", bars.Symbol),
		zap.Int("combinations", len(combos)),
		zap.Int("failures", failures),
		zap.String("rank_metric", rankMetric),
		zap.Float64("best_score", best.Score))

	return &Result{
		RankMetric:  rankMetric,
		BestParams:  best.Params,
		BestMetrics: best.Metrics,
		Best:        bestResult,
		Evaluations: evals,
		Failures:    failures,
	}, nil
}

// rank sorts evaluations in place, best first, and stamps Rank. Order:
// successes before failures, then score descending, then lower max drawdown.
// The sort is stable, so full ties keep grid expansion order.
func rank(evals []Evaluation) {
	sort.SliceStable(evals, func(i, j int) bool {
		a, b := evals[i], evals[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Metrics.MaxDrawdown < b.Metrics.MaxDrawdown
	})
	for i := range evals {
		evals[i].Rank = i + 1
	}
}

func evaluate(bars *engine.BarSeries, factory strategies.Factory, params strategies.Params, cfg engine.SimConfig, riskFree float64, rankMetric string) Evaluation {
	ev := Evaluation{Params: params}
	res, err := runOnce(bars, factory, params, cfg, riskFree)
	if err != nil {
		ev.Failed = true
		ev.Error = engine.NewEvaluationError(err, "params %v", params).Error()
		return ev
	}
	ev.Metrics = *res.Metrics
	ev.Score, _ = MetricValue(ev.Metrics, rankMetric)
	return ev
}

// runOnce performs one full strategy evaluation: construct, signal, simulate,
// measure. The returned result carries its metrics.
func runOnce(bars *engine.BarSeries, factory strategies.Factory, params strategies.Params, cfg engine.SimConfig, riskFree float64) (*engine.BacktestResult, error) {
	strat, err := factory(params)
	if err != nil {
		return nil, err
	}
	sig, err := strat.Signals(bars)
	if err != nil {
		return nil, err
	}
	res, err := engine.Simulate(bars, sig, cfg)
	if err != nil {
		return nil, err
	}
	m := engine.ComputeMetrics(res, riskFree)
	res.Metrics = &m
	return res, nil
}

// RankMetrics lists the metric names accepted as ranking keys.
var RankMetrics = []string{
	"total_return",
	"annualized_return",
	"sharpe_ratio",
	"sortino_ratio",
	"calmar_ratio",
	"max_drawdown",
	"win_rate",
	"profit_factor",
	"expectancy",
	"exposure",
}

// MetricValue extracts one metric by its wire name. max_drawdown is negated
// so that descending rank prefers the shallowest drawdown.
func MetricValue(m engine.PerformanceMetrics, name string) (float64, error) {
	switch name {
	case "total_return":
		return m.TotalReturn, nil
	case "annualized_return":
		return m.AnnualizedReturn, nil
	case "sharpe_ratio":
		return m.SharpeRatio, nil
	case "sortino_ratio":
		return m.SortinoRatio, nil
	case "calmar_ratio":
		return m.CalmarRatio, nil
	case "max_drawdown":
		return -m.MaxDrawdown, nil
	case "win_rate":
		return m.WinRate, nil
	case "profit_factor":
		return m.ProfitFactor, nil
	case "expectancy":
		return m.Expectancy, nil
	case "exposure":
		return m.Exposure, nil
	default:
		return 0, engine.NewConfigError("unknown rank metric %q", name)
	}
}
