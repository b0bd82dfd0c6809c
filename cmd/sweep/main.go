// Command sweep runs the batch analyses over CSV bar files. Modes: grid
// search, walk-forward, Monte Carlo resampling, multi-symbol portfolio and
// strategy comparison.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"quantsim/services/engine"
	"quantsim/services/marketdata"
	"quantsim/services/montecarlo"
	"quantsim/services/optimize"
	"quantsim/services/portfolio"
	"quantsim/services/walkforward"
	"quantsim/strategies"
)

func main() {
	csvPath := flag.String("csv", "", "Path to OHLCV CSV input (required)")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	mode := flag.String("mode", "grid", "Analysis mode: grid, walkforward, montecarlo, portfolio or compare")
	strategyName := flag.String("strategy", "ma_cross", "Strategy name (grid, walkforward, montecarlo, portfolio)")
	paramsFlag := flag.String("params", "", "Strategy parameters, e.g. fast_period=5,slow_period=20")
	gridFlag := flag.String("grid", "", "Parameter grid, e.g. fast_period=3,5;slow_period=10,20")
	compareFlag := flag.String("compare", "", "Contenders, e.g. ma_cross:fast_period=5,slow_period=20;buy_hold")
	csvExtra := flag.String("csv-extra", "", "Additional symbol:path pairs for portfolio mode, e.g. ETHUSDT:eth.csv")
	weightsFlag := flag.String("weights", "", "Portfolio weights, e.g. BTCUSDT=0.6,ETHUSDT=0.4 (default equal)")
	rebalance := flag.Int("rebalance", 0, "Portfolio rebalance interval in bars (0 disables)")
	metric := flag.String("metric", "sharpe_ratio", "Ranking metric")
	window := flag.Int("window", 0, "Walk-forward training window in bars")
	step := flag.Int("step", 0, "Walk-forward test step in bars")
	sims := flag.Int("sims", 1000, "Monte Carlo iterations")
	seed := flag.Int64("seed", 42, "Monte Carlo seed")
	capital := flag.Float64("capital", 10000, "Initial capital")
	commission := flag.Float64("commission", 0, "Flat commission per fill")
	commissionPct := flag.Float64("commission-pct", 0, "Commission as a fraction of notional")
	slippagePct := flag.Float64("slippage-pct", 0, "Adverse slippage as a fraction of price")
	fraction := flag.Float64("fraction", 1.0, "Sizing fraction of equity per position")
	riskFree := flag.Float64("risk-free", 0, "Annual risk-free rate for ratio metrics")
	workers := flag.Int("workers", 0, "Worker count (0 picks the CPU count)")
	out := flag.String("out", "", "Write the full result JSON here")
	flag.Parse()

	if *csvPath == "" {
		fail("missing -csv input path")
	}

	loader := marketdata.NewLoader(nil)
	series, err := loader.LoadCSV(*csvPath, *symbol)
	if err != nil {
		fail("load csv: %v", err)
	}
	fmt.Printf("Loaded %d bars for %s\n", series.Len(), series.Symbol)

	simCfg := engine.SimConfig{
		InitialCapital:     *capital,
		CommissionPerTrade: *commission,
		CommissionPct:      *commissionPct,
		SlippagePct:        *slippagePct,
		SizingFraction:     *fraction,
	}
	opts := optimize.Options{Sim: simCfg, RiskFreeRate: *riskFree, Workers: *workers}
	ctx := context.Background()

	var payload any
	switch *mode {
	case "grid":
		payload = runGrid(ctx, series, *strategyName, *gridFlag, *metric, opts)
	case "walkforward":
		payload = runWalkForward(ctx, series, *strategyName, *gridFlag, *window, *step, *metric, opts)
	case "montecarlo":
		payload = runMonteCarlo(ctx, series, *strategyName, *paramsFlag, *sims, *seed, *workers, simCfg, *riskFree)
	case "portfolio":
		payload = runPortfolio(ctx, loader, series, *csvExtra, *strategyName, *paramsFlag, *weightsFlag, *rebalance, simCfg, *riskFree, *workers)
	case "compare":
		payload = runCompare(ctx, series, *compareFlag, *metric, opts)
	default:
		fail("unknown -mode %q (grid, walkforward, montecarlo, portfolio, compare)", *mode)
	}

	if *out != "" {
		if err := writeJSON(*out, payload); err != nil {
			fail("write output: %v", err)
		}
		fmt.Printf("Result written to %s\n", *out)
	}
}

func runGrid(ctx context.Context, series *engine.BarSeries, strategyName, gridSpec, metric string, opts optimize.Options) any {
	factory, err := strategies.Lookup(strategyName)
	if err != nil {
		fail("%v", err)
	}
	grid, err := parseGrid(gridSpec)
	if err != nil {
		fail("bad -grid: %v", err)
	}
	res, err := optimize.GridSearch(ctx, series, factory, grid, metric, opts)
	if err != nil {
		fail("grid search: %v", err)
	}

	fmt.Printf("=== Grid Search: %s by %s ===\n", strategyName, res.RankMetric)
	fmt.Printf("%-5s %-42s %12s %10s %8s\n", "rank", "params", res.RankMetric, "max_dd", "trades")
	for _, ev := range res.Evaluations {
		if ev.Failed {
			fmt.Printf("%-5d %-42s %12s %10s %8s  %s\n",
				ev.Rank, paramsString(ev.Params), "failed", "-", "-", ev.Error)
			continue
		}
		fmt.Printf("%-5d %-42s %12.4f %10.4f %8d\n",
			ev.Rank, paramsString(ev.Params), ev.Score, ev.Metrics.MaxDrawdown, ev.Metrics.TotalTrades)
	}
	fmt.Printf("Best: %s (return %.2f%%)\n", paramsString(res.BestParams), res.BestMetrics.TotalReturn*100)
	return res
}

func runWalkForward(ctx context.Context, series *engine.BarSeries, strategyName, gridSpec string, window, step int, metric string, opts optimize.Options) any {
	factory, err := strategies.Lookup(strategyName)
	if err != nil {
		fail("%v", err)
	}
	grid, err := parseGrid(gridSpec)
	if err != nil {
		fail("bad -grid: %v", err)
	}
	wfOpts := walkforward.Options{
		Sim:          opts.Sim,
		RiskFreeRate: opts.RiskFreeRate,
		Workers:      opts.Workers,
	}
	res, err := walkforward.Analyze(ctx, series, factory, grid, window, step, metric, wfOpts)
	if err != nil {
		fail("walk-forward: %v", err)
	}

	fmt.Printf("=== Walk-Forward: %s, window %d step %d ===\n", strategyName, res.WindowSize, res.StepSize)
	fmt.Printf("%-4s %-16s %-16s %-42s %12s %12s\n", "win", "train", "test", "params", "is_score", "oos_return")
	for _, w := range res.Windows {
		train := fmt.Sprintf("%d..%d", w.TrainStart, w.TrainEnd)
		test := fmt.Sprintf("%d..%d", w.TestStart, w.TestEnd)
		if w.Failed {
			fmt.Printf("%-4d %-16s %-16s %-42s %12s %12s  %s\n",
				w.Index, train, test, "-", "failed", "-", w.Error)
			continue
		}
		isScore, _ := optimize.MetricValue(w.InSample, res.RankMetric)
		fmt.Printf("%-4d %-16s %-16s %-42s %12.4f %11.2f%%\n",
			w.Index, train, test, paramsString(w.Params), isScore, w.OutOfSample.TotalReturn*100)
	}
	fmt.Printf("Consistency: %.2f, stitched return %.2f%%, Sharpe %.2f, max drawdown %.2f%%\n",
		res.ConsistencyScore, res.OOSMetrics.TotalReturn*100, res.OOSMetrics.SharpeRatio, res.OOSMetrics.MaxDrawdown*100)
	return res
}

func runMonteCarlo(ctx context.Context, series *engine.BarSeries, strategyName, paramsSpec string, sims int, seed int64, workers int, simCfg engine.SimConfig, riskFree float64) any {
	result := baseBacktest(series, strategyName, paramsSpec, simCfg, riskFree)
	res, err := montecarlo.Run(ctx, result, sims, seed, montecarlo.Options{Workers: workers})
	if err != nil {
		fail("monte carlo: %v", err)
	}

	fmt.Printf("=== Monte Carlo: %s, %d paths of %d %s draws (seed %d) ===\n",
		strategyName, res.Simulations, res.Draws, res.Unit, res.Seed)
	fmt.Printf("Empirical return: %.2f%%\n", res.Empirical*100)
	fmt.Printf("Mean: %.2f%%  P5: %.2f%%  P50: %.2f%%  P95: %.2f%%\n",
		res.Mean*100, res.P5*100, res.P50*100, res.P95*100)
	fmt.Printf("P(loss): %.2f%%  Drawdown P95: %.2f%%\n", res.ProbLoss*100, res.DrawdownP95*100)
	if res.FailedDraws > 0 {
		fmt.Printf("Discarded %d non-finite paths\n", res.FailedDraws)
	}
	return res
}

func runPortfolio(ctx context.Context, loader *marketdata.Loader, series *engine.BarSeries, extraSpec, strategyName, paramsSpec, weightsSpec string, rebalance int, simCfg engine.SimConfig, riskFree float64, workers int) any {
	factory, err := strategies.Lookup(strategyName)
	if err != nil {
		fail("%v", err)
	}
	params, err := parseParams(paramsSpec)
	if err != nil {
		fail("bad -params: %v", err)
	}

	barsBySymbol := map[string]*engine.BarSeries{series.Symbol: series}
	if extraSpec != "" {
		for _, pair := range strings.Split(extraSpec, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				fail("bad -csv-extra entry %q, want symbol:path", pair)
			}
			extra, err := loader.LoadCSV(strings.TrimSpace(kv[1]), strings.TrimSpace(kv[0]))
			if err != nil {
				fail("load %s: %v", kv[1], err)
			}
			barsBySymbol[extra.Symbol] = extra
			fmt.Printf("Loaded %d bars for %s\n", extra.Len(), extra.Symbol)
		}
	}

	weights, err := parseWeights(weightsSpec)
	if err != nil {
		fail("bad -weights: %v", err)
	}
	policy := portfolio.Policy{Weights: weights, RebalanceEvery: rebalance}
	opts := portfolio.Options{Sim: simCfg, RiskFreeRate: riskFree, Workers: workers}
	res, err := portfolio.Run(ctx, barsBySymbol, factory, params, policy, opts)
	if err != nil {
		fail("portfolio: %v", err)
	}

	fmt.Printf("=== Portfolio: %s over %d symbols ===\n", strategyName, len(barsBySymbol))
	fmt.Printf("%-12s %8s %12s %12s\n", "symbol", "weight", "return", "max_dd")
	symbols := make([]string, 0, len(res.PerSymbol))
	for sym := range res.PerSymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		leg := res.PerSymbol[sym]
		fmt.Printf("%-12s %8.4f %11.2f%% %11.2f%%\n",
			sym, res.Weights[sym], leg.Metrics.TotalReturn*100, leg.Metrics.MaxDrawdown*100)
	}
	fmt.Printf("Combined: return %.2f%%, Sharpe %.2f, max drawdown %.2f%%, rebalances %d\n",
		res.Metrics.TotalReturn*100, res.Metrics.SharpeRatio, res.Metrics.MaxDrawdown*100, res.Rebalances)
	return res
}

func runCompare(ctx context.Context, series *engine.BarSeries, compareSpec, metric string, opts optimize.Options) any {
	entries, err := parseCompare(compareSpec)
	if err != nil {
		fail("bad -compare: %v", err)
	}
	res, err := optimize.Compare(ctx, series, entries, metric, opts)
	if err != nil {
		fail("compare: %v", err)
	}

	fmt.Printf("=== Strategy Comparison by %s ===\n", res.RankMetric)
	fmt.Printf("%-5s %-20s %-42s %12s %10s\n", "rank", "strategy", "params", res.RankMetric, "max_dd")
	for _, r := range res.Rankings {
		if r.Failed {
			fmt.Printf("%-5d %-20s %-42s %12s %10s  %s\n",
				r.Rank, r.Name, paramsString(r.Params), "failed", "-", r.Error)
			continue
		}
		fmt.Printf("%-5d %-20s %-42s %12.4f %10.4f\n",
			r.Rank, r.Name, paramsString(r.Params), r.Score, r.Metrics.MaxDrawdown)
	}
	return res
}

// baseBacktest runs the single simulation the Monte Carlo paths resample.
func baseBacktest(series *engine.BarSeries, strategyName, paramsSpec string, simCfg engine.SimConfig, riskFree float64) *engine.BacktestResult {
	factory, err := strategies.Lookup(strategyName)
	if err != nil {
		fail("%v", err)
	}
	params, err := parseParams(paramsSpec)
	if err != nil {
		fail("bad -params: %v", err)
	}
	strat, err := factory(params)
	if err != nil {
		fail("%v", err)
	}
	signals, err := strat.Signals(series)
	if err != nil {
		fail("signals: %v", err)
	}
	result, err := engine.Simulate(series, signals, simCfg)
	if err != nil {
		fail("simulate: %v", err)
	}
	m := engine.ComputeMetrics(result, riskFree)
	result.Metrics = &m
	return result
}

// parseParams reads "name=value,name=value" into strategy parameters.
func parseParams(s string) (strategies.Params, error) {
	params := strategies.Params{}
	if strings.TrimSpace(s) == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", kv[0], err)
		}
		params[strings.TrimSpace(kv[0])] = v
	}
	return params, nil
}

// parseGrid reads "name=v1,v2;name2=v3,v4" into a parameter grid.
func parseGrid(s string) (optimize.Grid, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty grid, use name=v1,v2;name2=v3")
	}
	grid := optimize.Grid{}
	for _, clause := range strings.Split(s, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		kv := strings.SplitN(clause, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected name=v1,v2, got %q", clause)
		}
		name := strings.TrimSpace(kv[0])
		var values []float64
		for _, raw := range strings.Split(kv[1], ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("grid value %q for %s: %v", raw, name, err)
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("no values for %s", name)
		}
		grid[name] = values
	}
	return grid, nil
}

// parseCompare reads "name:k=v,k=v;name2" into comparison entries.
func parseCompare(s string) ([]optimize.Entry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty contender list, use name:k=v;name2")
	}
	var entries []optimize.Entry
	for _, clause := range strings.Split(s, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name := clause
		var params strategies.Params
		if idx := strings.Index(clause, ":"); idx >= 0 {
			name = strings.TrimSpace(clause[:idx])
			p, err := parseParams(clause[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("contender %s: %v", name, err)
			}
			params = p
		}
		factory, err := strategies.Lookup(name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, optimize.Entry{Name: name, Factory: factory, Params: params})
	}
	return entries, nil
}

// parseWeights reads "SYM=0.6,SYM2=0.4" into portfolio weights; empty input
// means equal weighting.
func parseWeights(s string) (map[string]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	weights := map[string]float64{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected symbol=weight, got %q", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("weight for %q: %v", kv[0], err)
		}
		weights[strings.TrimSpace(kv[0])] = v
	}
	return weights, nil
}

// paramsString renders parameters in a stable order for table rows.
func paramsString(p strategies.Params) string {
	if len(p) == 0 {
		return "-"
	}
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, p[name])
	}
	return strings.Join(parts, ", ")
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
