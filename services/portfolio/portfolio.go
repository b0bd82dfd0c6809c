// Package portfolio runs one strategy across several instruments at once.
// Capital is split by weight, each leg is simulated independently on its
// slice, and the legs are recombined on the union of their timestamps: a leg
// without a mark at some timestamp carries its last value forward, never
// zero. An optional periodic rebalance snaps the legs back to target weights
// and pays commission on the turnover it causes.
package portfolio

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"quantsim/services/engine"
	"quantsim/strategies"
)

// Policy sets capital allocation. Empty Weights means equal weight across
// all symbols. RebalanceEvery is measured in union timestamps; zero disables
// rebalancing.
type Policy struct {
	Weights        map[string]float64 `json:"weights,omitempty"`
	RebalanceEvery int                `json:"rebalance_every,omitempty"`
}

// Result is the combined portfolio outcome plus the per-leg results it was
// assembled from. Combined trades keep their leg's symbol tag.
type Result struct {
	Combined   *engine.BacktestResult            `json:"combined"`
	Metrics    engine.PerformanceMetrics         `json:"metrics"`
	PerSymbol  map[string]*engine.BacktestResult `json:"per_symbol"`
	Weights    map[string]float64                `json:"weights"`
	Rebalances int                               `json:"rebalances"`
}

// Options carries the shared simulation settings for a portfolio run.
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

// Run simulates every symbol on its capital slice concurrently, then walks
// the union timeline to build the combined curve. Any leg failing fails the
// whole run: portfolio accounting cannot survive a missing leg.
func Run(ctx context.Context, barsBySymbol map[string]*engine.BarSeries, factory strategies.Factory, params strategies.Params, policy Policy, opts Options) (*Result, error) {
	log := opts.logger()
	if len(barsBySymbol) == 0 {
		return nil, engine.NewConfigError("portfolio needs at least one symbol")
	}
	if factory == nil {
		return nil, engine.NewConfigError("nil strategy factory")
	}
	if policy.RebalanceEvery < 0 {
		return nil, engine.NewConfigError("rebalance interval must be non-negative, got %d", policy.RebalanceEvery)
	}
	cfg := opts.Sim.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(barsBySymbol))
	for sym := range barsBySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		if err := barsBySymbol[sym].Validate(); err != nil {
			return nil, err
		}
	}

	weights, err := resolveWeights(symbols, policy.Weights)
	if err != nil {
		return nil, err
	}

	legs := make([]*engine.BacktestResult, len(symbols))
	errs := make([]error, len(symbols))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workerCount(len(symbols)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				sym := symbols[i]
				legCfg := cfg
				legCfg.InitialCapital = cfg.InitialCapital * weights[sym]
				legs[i], errs[i] = runLeg(barsBySymbol[sym], factory, params, legCfg, opts.RiskFreeRate)
			}
		}()
	}
feed:
	for i := range symbols {
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
	for i, err := range errs {
		if err != nil {
			return nil, engine.NewEvaluationError(err, "symbol %s", symbols[i])
		}
	}

	res := combine(symbols, legs, weights, policy, cfg)
	res.Metrics = engine.ComputeMetrics(res.Combined, opts.RiskFreeRate)
	res.Combined.Metrics = &res.Metrics

	log.Info("portfolio backtest complete",
		zap.Int("symbols", len(symbols)),
		zap.Int("rebalances", res.Rebalances),
		zap.Float64("final_equity", res.Combined.FinalEquity),
		zap.Float64("total_return", res.Metrics.TotalReturn))
	return res, nil
}

// resolveWeights fills equal weights or validates explicit ones: every
// traded symbol weighted, no strays, positive, summing to one.
func resolveWeights(symbols []string, explicit map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(explicit) == 0 {
		w := 1.0 / float64(len(symbols))
		for _, sym := range symbols {
			out[sym] = w
		}
		return out, nil
	}
	for sym := range explicit {
		found := false
		for _, s := range symbols {
			if s == sym {
				found = true
				break
			}
		}
		if !found {
			return nil, engine.NewConfigError("weight for unknown symbol %q", sym)
		}
	}
	sum := 0.0
	for _, sym := range symbols {
		w, ok := explicit[sym]
		if !ok {
			return nil, engine.NewConfigError("symbol %q has no weight", sym)
		}
		if w <= 0 {
			return nil, engine.NewConfigError("symbol %q weight must be positive, got %v", sym, w)
		}
		out[sym] = w
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, engine.NewConfigError("weights sum to %v, want 1", sum)
	}
	return out, nil
}

func runLeg(bars *engine.BarSeries, factory strategies.Factory, params strategies.Params, cfg engine.SimConfig, riskFree float64) (*engine.BacktestResult, error) {
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

// legState tracks one leg along the union walk: its current slice value and
// the last equity mark seen from its own curve.
type legState struct {
	next  int     // next unread index into the leg's curve
	value float64 // current slice value in the portfolio
	last  float64 // last equity mark from the leg's own curve
}

// combine walks the union of all leg timestamps. At each timestamp every
// leg that marks there advances its slice value by the leg's own return;
// silent legs carry. Rebalancing happens at the close of every K-th union
// timestamp, after returns are applied and before the combined mark is
// taken.
func combine(symbols []string, legs []*engine.BacktestResult, weights map[string]float64, policy Policy, cfg engine.SimConfig) *Result {
	union := unionTimestamps(legs)
	states := make([]legState, len(legs))
	for i, leg := range legs {
		states[i] = legState{value: leg.InitialCapital, last: leg.InitialCapital}
	}

	combined := &engine.BacktestResult{
		Symbol:         strings.Join(symbols, ","),
		Config:         cfg,
		InitialCapital: cfg.InitialCapital,
		EquityCurve:    make(engine.EquityCurve, 0, len(union)),
		Events:         &engine.EventLog{},
	}
	rebalances := 0
	sinceRebalance := 0
	for _, ts := range union {
		for i, leg := range legs {
			st := &states[i]
			if st.next < len(leg.EquityCurve) && leg.EquityCurve[st.next].Timestamp == ts {
				mark := leg.EquityCurve[st.next].Equity
				if st.last > 0 {
					st.value *= mark / st.last
				}
				st.last = mark
				st.next++
			}
		}
		sinceRebalance++
		if policy.RebalanceEvery > 0 && sinceRebalance == policy.RebalanceEvery {
			sinceRebalance = 0
			rebalances++
			total := 0.0
			for i := range states {
				total += states[i].value
			}
			turnover := 0.0
			moved := 0
			for i, sym := range symbols {
				delta := math.Abs(weights[sym]*total - states[i].value)
				turnover += delta
				if delta > 1e-9 {
					moved++
				}
			}
			fee := turnover*cfg.CommissionPct + float64(moved)*cfg.CommissionPerTrade
			total -= fee
			for i, sym := range symbols {
				states[i].value = weights[sym] * total
			}
			combined.Events.Append(engine.Event{
				Ts:     ts,
				Type:   engine.EventRebalance,
				Symbol: combined.Symbol,
				Details: map[string]string{
					"turnover": strconv.FormatFloat(turnover, 'f', -1, 64),
					"fee":      strconv.FormatFloat(fee, 'f', -1, 64),
				},
			})
		}

		total := 0.0
		for i := range states {
			total += states[i].value
		}
		combined.EquityCurve = append(combined.EquityCurve, engine.EquityPoint{Timestamp: ts, Equity: total})
	}
	combined.FinalEquity = combined.EquityCurve.Final()

	for _, leg := range legs {
		combined.Trades = append(combined.Trades, leg.Trades...)
	}
	sort.SliceStable(combined.Trades, func(i, j int) bool {
		a, b := combined.Trades[i], combined.Trades[j]
		if a.EntryTimestamp != b.EntryTimestamp {
			return a.EntryTimestamp < b.EntryTimestamp
		}
		return a.Symbol < b.Symbol
	})

	// Aggregate exposure is the capital-weighted mean of the legs'.
	exposure := 0.0
	for i, sym := range symbols {
		if n := len(legs[i].EquityCurve); n > 0 {
			exposure += weights[sym] * float64(legs[i].BarsInPosition) / float64(n)
		}
	}
	combined.BarsInPosition = int(math.Round(exposure * float64(len(union))))

	perSymbol := make(map[string]*engine.BacktestResult, len(symbols))
	for i, sym := range symbols {
		perSymbol[sym] = legs[i]
	}
	return &Result{
		Combined:   combined,
		PerSymbol:  perSymbol,
		Weights:    weights,
		Rebalances: rebalances,
	}
}

func unionTimestamps(legs []*engine.BacktestResult) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, leg := range legs {
		for _, p := range leg.EquityCurve {
			if _, ok := seen[p.Timestamp]; !ok {
				seen[p.Timestamp] = struct{}{}
				out = append(out, p.Timestamp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
