package optimize

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"quantsim/services/engine"
	"quantsim/strategies"
)

// Entry is one contender in a strategy comparison: a named factory with the
// fixed parameters it runs under.
type Entry struct {
	Name    string
	Factory strategies.Factory
	Params  strategies.Params
}

// Ranking is one contender's scored outcome, same semantics as Evaluation.
type Ranking struct {
	Rank    int                       `json:"rank"`
	Name    string                    `json:"name"`
	Params  strategies.Params         `json:"params"`
	Score   float64                   `json:"score"`
	Metrics engine.PerformanceMetrics `json:"metrics"`
	Failed  bool                      `json:"failed,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// Comparison is the ranked head-to-head of several strategies on one series.
type Comparison struct {
	RankMetric string    `json:"rank_metric"`
	Rankings   []Ranking `json:"rankings"`
	Failures   int       `json:"failures"`
}

// Compare runs every entry on the same bars under the same simulation
// settings and ranks them by rankMetric, descending, ties broken by lower
// max drawdown. A failing entry is recorded and ranked last; the comparison
// fails only when every entry does.
func Compare(ctx context.Context, bars *engine.BarSeries, entries []Entry, rankMetric string, opts Options) (*Comparison, error) {
	log := opts.logger()
	if len(entries) == 0 {
		return nil, engine.NewConfigError("nothing to compare")
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, engine.NewConfigError("entry %d has no name", i)
		}
		if e.Factory == nil {
			return nil, engine.NewConfigError("entry %q has no factory", e.Name)
		}
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

	rankings := make([]Ranking, len(entries))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workerCount(len(entries)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				e := entries[i]
				ev := evaluate(bars, e.Factory, e.Params, cfg, opts.RiskFreeRate, rankMetric)
				rankings[i] = Ranking{
					Name:    e.Name,
					Params:  ev.Params,
					Score:   ev.Score,
					Metrics: ev.Metrics,
					Failed:  ev.Failed,
					Error:   ev.Error,
				}
			}
		}()
	}
feed:
	for i := range entries {
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
	for i := range rankings {
		if rankings[i].Failed {
			failures++
			if firstErr == "" {
				firstErr = rankings[i].Error
			}
		}
	}
	if failures == len(rankings) {
		return nil, engine.NewOptimizationFailedError("all %d strategies failed, first: %s", len(rankings), firstErr)
	}

	rankRankings(rankings)
	log.Info("comparison complete",
		zap.String("symbol", bars.Symbol),
		zap.Int("strategies", len(entries)),
		zap.Int("failures", failures),
		zap.String("rank_metric", rankMetric),
		zap.String("winner", rankings[0].Name))

	return &Comparison{RankMetric: rankMetric, Rankings: rankings, Failures: failures}, nil
}

// rankRankings sorts best first, same order as grid evaluations; the stable
// sort keeps submission order on full ties.
func rankRankings(rs []Ranking) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Failed != b.Failed {
			return !a.Failed
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Metrics.MaxDrawdown < b.Metrics.MaxDrawdown
	})
	for i := range rs {
		rs[i].Rank = i + 1
	}
}
