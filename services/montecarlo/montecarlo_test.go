package montecarlo

import (
	"context"
	"math"
	"reflect"
	"testing"

	"quantsim/services/engine"
)

func curveOf(equities ...float64) engine.EquityCurve {
	out := make(engine.EquityCurve, len(equities))
	for i, eq := range equities {
		out[i] = engine.EquityPoint{Timestamp: uint64(i+1) * 86400000, Equity: eq}
	}
	return out
}

// syntheticResult fabricates a finished backtest with a mixed trade ledger:
// mostly small wins, periodic losses, a few outsized wins.
func syntheticResult(tradeCount int) *engine.BacktestResult {
	trades := make([]engine.Trade, tradeCount)
	for i := range trades {
		r := 0.02
		switch {
		case i%3 == 0:
			r = -0.015
		case i%7 == 0:
			r = 0.035
		}
		trades[i] = engine.Trade{Symbol: "MC", ReturnPct: r, NetPnL: r * 1000}
	}
	return &engine.BacktestResult{
		Symbol:         "MC",
		InitialCapital: 10000,
		FinalEquity:    11000,
		EquityCurve:    curveOf(10000, 10100, 9950, 10200, 10150, 10400, 10300, 10600, 10800, 11000),
		Trades:         trades,
	}
}

func TestRunDeterministicForSeed(t *testing.T) {
	res := syntheticResult(25)
	opts := Options{}

	a, err := Run(context.Background(), res, 400, 42, opts)
	if err != nil {
		t.Fatalf("run a: %v", err)
	}
	b, err := Run(context.Background(), res, 400, 42, opts)
	if err != nil {
		t.Fatalf("run b: %v", err)
	}
	if !reflect.DeepEqual(a.Distribution, b.Distribution) {
		t.Fatal("same seed produced different distributions")
	}
	if a.P5 != b.P5 || a.P50 != b.P50 || a.P95 != b.P95 {
		t.Fatalf("same seed produced different percentiles: %+v vs %+v", a, b)
	}
	if a.Unit != UnitTradeReturns {
		t.Fatalf("expected trade resampling for 25 trades, got %s", a.Unit)
	}
	if a.Draws != 25 {
		t.Fatalf("draws per path %d, want 25", a.Draws)
	}
	if len(a.Distribution) != 400 {
		t.Fatalf("distribution size %d, want 400", len(a.Distribution))
	}
}

func TestRunSeedChangesDistribution(t *testing.T) {
	res := syntheticResult(25)

	a, err := Run(context.Background(), res, 200, 42, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := Run(context.Background(), res, 200, 43, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reflect.DeepEqual(a.Distribution, b.Distribution) {
		t.Fatal("different seeds produced identical distributions")
	}
}

func TestRunPercentilesOrderedAndSane(t *testing.T) {
	res := syntheticResult(30)

	out, err := Run(context.Background(), res, 500, 7, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !(out.P5 <= out.P50 && out.P50 <= out.P95) {
		t.Fatalf("percentiles out of order: p5=%v p50=%v p95=%v", out.P5, out.P50, out.P95)
	}
	if out.ProbLoss < 0 || out.ProbLoss > 1 {
		t.Fatalf("prob_loss %v outside [0,1]", out.ProbLoss)
	}
	if out.DrawdownP95 < 0 || out.DrawdownP95 > 1 {
		t.Fatalf("drawdown p95 %v outside [0,1]", out.DrawdownP95)
	}
	if math.Abs(out.Empirical-0.1) > 1e-12 {
		t.Fatalf("empirical return %v, want 0.1", out.Empirical)
	}
	for i := 1; i < len(out.Distribution); i++ {
		if out.Distribution[i] < out.Distribution[i-1] {
			t.Fatalf("distribution not sorted at %d", i)
		}
	}
}

func TestRunFallsBackToBarReturns(t *testing.T) {
	res := syntheticResult(5) // below MinTradeResample

	out, err := Run(context.Background(), res, 100, 1, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Unit != UnitBarReturns {
		t.Fatalf("expected bar fallback for 5 trades, got %s", out.Unit)
	}
	if out.Draws != 9 {
		t.Fatalf("draws per path %d, want 9 bar returns from a 10-point curve", out.Draws)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	res := syntheticResult(25)
	if _, err := Run(context.Background(), res, 0, 1, Options{}); !engine.IsConfigError(err) {
		t.Fatalf("zero simulations: got %v", err)
	}
	if _, err := Run(context.Background(), nil, 10, 1, Options{}); !engine.IsDataError(err) {
		t.Fatalf("nil result: got %v", err)
	}
	empty := &engine.BacktestResult{InitialCapital: 10000, FinalEquity: 10000}
	if _, err := Run(context.Background(), empty, 10, 1, Options{}); !engine.IsDataError(err) {
		t.Fatalf("no returns: got %v", err)
	}
}

func TestPercentileLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{1, 4},
	}
	for _, c := range cases {
		if got := percentile(sorted, c.p); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("percentile(%v) = %v, want %v", c.p, got, c.want)
		}
	}
	if got := percentile([]float64{7}, 0.95); got != 7 {
		t.Fatalf("single sample percentile = %v, want 7", got)
	}
}
