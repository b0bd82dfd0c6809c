// Package walkforward estimates out-of-sample performance by rolling a
// train/test split across a series: optimize parameters on the train slice,
// evaluate them untouched on the adjacent test slice, slide forward, then
// stitch the test curves into one out-of-sample track record.
package walkforward

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"quantsim/services/engine"
	"quantsim/services/optimize"
	"quantsim/strategies"
)

// Window is one train/test split. Index bounds are bar offsets into the
// analyzed series, end-exclusive. Params are the train-slice winners and are
// applied to the test slice exactly as chosen.
type Window struct {
	Index       int                       `json:"index"`
	TrainStart  int                       `json:"train_start"`
	TrainEnd    int                       `json:"train_end"`
	TestStart   int                       `json:"test_start"`
	TestEnd     int                       `json:"test_end"`
	Params      strategies.Params         `json:"params,omitempty"`
	InSample    engine.PerformanceMetrics `json:"in_sample"`
	OutOfSample engine.PerformanceMetrics `json:"out_of_sample"`
	Failed      bool                      `json:"failed,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// Result is the full walk-forward report. OOS holds the stitched
// out-of-sample equity curve and the trades taken across all test slices;
// OOSMetrics is computed over that stitched result. ConsistencyScore is the
// fraction of windows with positive out-of-sample return; a failed window
// counts as non-positive.
type Result struct {
	WindowSize       int                       `json:"window_size"`
	StepSize         int                       `json:"step_size"`
	RankMetric       string                    `json:"rank_metric"`
	Windows          []Window                  `json:"windows"`
	OOS              *engine.BacktestResult    `json:"oos_result,omitempty"`
	OOSMetrics       engine.PerformanceMetrics `json:"oos_metrics"`
	ConsistencyScore float64                   `json:"consistency_score"`
	Failures         int                       `json:"failures"`
}

// Options carries the shared simulation settings for an analysis.
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

// windowOutcome pairs a window with the raw test-slice simulation needed for
// stitching. Only the report survives; curves are folded into the stitched
// track and dropped.
type windowOutcome struct {
	report Window
	test   *engine.BacktestResult
}

// Analyze runs the walk-forward procedure: train on [i, i+windowSize), test
// on [i+windowSize, i+windowSize+stepSize), advance by stepSize. A trailing
// partial window is dropped, never shrunk. Test-slice signals are computed
// from test bars alone, so nothing chosen or computed for a window can see
// past its train slice. Windows are independent and run concurrently; the
// grid search inside each window is sequential.
func Analyze(ctx context.Context, bars *engine.BarSeries, factory strategies.Factory, grid optimize.Grid, windowSize, stepSize int, rankMetric string, opts Options) (*Result, error) {
	log := opts.logger()
	if windowSize <= 0 || stepSize <= 0 {
		return nil, engine.NewConfigError("window and step must be positive, got %d/%d", windowSize, stepSize)
	}
	if factory == nil {
		return nil, engine.NewConfigError("nil strategy factory")
	}
	if rankMetric == "" {
		rankMetric = "sharpe_ratio"
	}
	if _, err := optimize.MetricValue(engine.PerformanceMetrics{}, rankMetric); err != nil {
		return nil, err
	}
	if _, err := grid.Combinations(); err != nil {
		return nil, err
	}
	cfg := opts.Sim.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}

	spans := buildWindows(bars.Len(), windowSize, stepSize)
	if len(spans) == 0 {
		return nil, engine.NewConfigError("%d bars cannot fit one %d-bar train window plus a %d-bar test window",
			bars.Len(), windowSize, stepSize)
	}

	outcomes := make([]windowOutcome, len(spans))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workerCount(len(spans)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				outcomes[i] = runWindow(ctx, bars, factory, grid, spans[i], rankMetric, cfg, opts.RiskFreeRate)
			}
		}()
	}
feed:
	for i := range spans {
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

	res := &Result{
		WindowSize: windowSize,
		StepSize:   stepSize,
		RankMetric: rankMetric,
		Windows:    make([]Window, len(outcomes)),
	}
	positives := 0
	for i, o := range outcomes {
		res.Windows[i] = o.report
		if o.report.Failed {
			res.Failures++
		} else if o.report.OutOfSample.TotalReturn > 0 {
			positives++
		}
	}
	if res.Failures == len(outcomes) {
		return nil, engine.NewAnalysisFailedError("all %d walk-forward windows failed", len(outcomes))
	}
	res.ConsistencyScore = float64(positives) / float64(len(outcomes))

	res.OOS = stitch(bars.Symbol, cfg, outcomes)
	res.OOSMetrics = engine.ComputeMetrics(res.OOS, opts.RiskFreeRate)
	res.OOS.Metrics = &res.OOSMetrics

	log.Info("walk-forward analysis complete",
		zap.String("symbol", bars.Symbol),
		zap.Int("windows", len(outcomes)),
		zap.Int("failures", res.Failures),
		zap.Float64("consistency", res.ConsistencyScore),
		zap.Float64("oos_return", res.OOSMetrics.TotalReturn))
	return res, nil
}

// buildWindows enumerates full train+test spans. A span fits only when the
// whole test slice does; trailing partials are dropped.
func buildWindows(n, window, step int) []Window {
	var out []Window
	for i := 0; i+window+step <= n; i += step {
		out = append(out, Window{
			Index:      len(out),
			TrainStart: i,
			TrainEnd:   i + window,
			TestStart:  i + window,
			TestEnd:    i + window + step,
		})
	}
	return out
}

func runWindow(ctx context.Context, bars *engine.BarSeries, factory strategies.Factory, grid optimize.Grid, span Window, rankMetric string, cfg engine.SimConfig, riskFree float64) windowOutcome {
	report := span

	train := bars.Slice(span.TrainStart, span.TrainEnd)
	gres, err := optimize.GridSearch(ctx, train, factory, grid, rankMetric, optimize.Options{
		Sim:          cfg,
		RiskFreeRate: riskFree,
		Workers:      1,
	})
	if err != nil {
		report.Failed = true
		report.Error = err.Error()
		return windowOutcome{report: report}
	}
	report.Params = gres.BestParams
	report.InSample = gres.BestMetrics

	test := bars.Slice(span.TestStart, span.TestEnd)
	strat, err := factory(gres.BestParams)
	if err != nil {
		report.Failed = true
		report.Error = engine.NewEvaluationError(err, "window %d test build", span.Index).Error()
		return windowOutcome{report: report}
	}
	sig, err := strat.Signals(test)
	if err != nil {
		report.Failed = true
		report.Error = engine.NewEvaluationError(err, "window %d test signals", span.Index).Error()
		return windowOutcome{report: report}
	}
	testRes, err := engine.Simulate(test, sig, cfg)
	if err != nil {
		report.Failed = true
		report.Error = engine.NewEvaluationError(err, "window %d test run", span.Index).Error()
		return windowOutcome{report: report}
	}
	report.OutOfSample = engine.ComputeMetrics(testRes, riskFree)
	return windowOutcome{report: report, test: testRes}
}

// stitch chains the test-slice curves multiplicatively: each window's curve
// is normalized by its starting capital and scaled by the compounded growth
// of every window before it, so the track reads as one continuous account.
// Failed windows leave a gap.
func stitch(symbol string, cfg engine.SimConfig, outcomes []windowOutcome) *engine.BacktestResult {
	agg := &engine.BacktestResult{
		Symbol:         symbol,
		Config:         cfg,
		InitialCapital: cfg.InitialCapital,
	}
	factor := 1.0
	for _, o := range outcomes {
		if o.test == nil {
			continue
		}
		for _, p := range o.test.EquityCurve {
			agg.EquityCurve = append(agg.EquityCurve, engine.EquityPoint{
				Timestamp: p.Timestamp,
				Equity:    factor * p.Equity,
			})
		}
		agg.Trades = append(agg.Trades, o.test.Trades...)
		agg.BarsInPosition += o.test.BarsInPosition
		factor *= o.test.EquityCurve.Final() / o.test.InitialCapital
	}
	agg.FinalEquity = agg.EquityCurve.Final()
	return agg
}
