package walkforward

import (
	"context"
	"math"
	"reflect"
	"testing"

	"quantsim/services/engine"
	"quantsim/services/optimize"
	"quantsim/strategies"
)

func seriesFromCloses(symbol string, closes ...float64) *engine.BarSeries {
	bars := make([]engine.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		bars[i] = engine.Bar{
			Timestamp: uint64(i+1) * 86400000,
			Open:      open,
			High:      math.Max(open, c),
			Low:       math.Min(open, c),
			Close:     c,
			Volume:    1,
		}
	}
	return engine.NewBarSeries(symbol, bars)
}

func TestBuildWindowsDropsTrailingPartial(t *testing.T) {
	spans := buildWindows(25, 10, 10)
	if len(spans) != 1 {
		t.Fatalf("expected 1 full window from 25 bars, got %d", len(spans))
	}
	w := spans[0]
	if w.TrainStart != 0 || w.TrainEnd != 10 || w.TestStart != 10 || w.TestEnd != 20 {
		t.Fatalf("bad window geometry: %+v", w)
	}

	spans = buildWindows(30, 10, 5)
	// i = 0, 5, 10, 15 all fit (i+15 <= 30); i = 20 does not.
	if len(spans) != 4 {
		t.Fatalf("expected 4 windows from 30 bars, got %d", len(spans))
	}
	for i, s := range spans {
		if s.Index != i {
			t.Fatalf("window %d has index %d", i, s.Index)
		}
		if s.TestEnd-s.TestStart != 5 || s.TrainEnd-s.TrainStart != 10 {
			t.Fatalf("window %d has partial spans: %+v", i, s)
		}
	}
}

func TestAnalyzeStitchesMultiplicatively(t *testing.T) {
	// Two test slices, each rising 10% open-to-close. Buy and hold turns
	// each into a 1.1x factor; stitched they compound to 1.21x.
	bars := seriesFromCloses("WF", 100, 100, 100, 110, 100, 110)
	hold, _ := strategies.Lookup("buy_hold")
	opts := Options{Sim: engine.SimConfig{InitialCapital: 10000}}

	res, err := Analyze(context.Background(), bars, hold, optimize.Grid{"x": {1}}, 2, 2, "total_return", opts)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(res.Windows))
	}
	if res.Failures != 0 {
		t.Fatalf("unexpected failures: %d", res.Failures)
	}
	if got := res.OOS.FinalEquity; math.Abs(got-12100) > 1e-6 {
		t.Fatalf("stitched final equity %v, want 12100", got)
	}
	if got := res.OOSMetrics.TotalReturn; math.Abs(got-0.21) > 1e-9 {
		t.Fatalf("stitched return %v, want 0.21", got)
	}
	if res.ConsistencyScore != 1.0 {
		t.Fatalf("consistency %v, want 1.0 with both windows positive", res.ConsistencyScore)
	}
	if len(res.OOS.EquityCurve) != 4 {
		t.Fatalf("stitched curve has %d points, want 4", len(res.OOS.EquityCurve))
	}
	for i := 1; i < len(res.OOS.EquityCurve); i++ {
		if res.OOS.EquityCurve[i].Timestamp <= res.OOS.EquityCurve[i-1].Timestamp {
			t.Fatalf("stitched curve timestamps not increasing at %d", i)
		}
	}
}

func TestAnalyzeParamsComeFromTrainOnly(t *testing.T) {
	// Same train region, different test region: the chosen parameters must
	// be identical, otherwise test data leaked into selection.
	train := []float64{100, 102, 99, 104, 101, 106, 103, 108, 105, 110, 107, 112, 109, 114, 111, 116, 113, 118, 115, 120}
	testA := []float64{120, 119, 118, 117, 116, 115, 114, 113, 112, 111}
	testB := []float64{120, 125, 130, 135, 140, 145, 150, 155, 160, 165}

	mkSeries := func(test []float64) *engine.BarSeries {
		return seriesFromCloses("LEAK", append(append([]float64{}, train...), test...)...)
	}
	factory, _ := strategies.Lookup("ma_cross")
	grid := optimize.Grid{"fast_period": {2, 3}, "slow_period": {5, 8}}
	opts := Options{Sim: engine.SimConfig{InitialCapital: 10000}}

	resA, err := Analyze(context.Background(), mkSeries(testA), factory, grid, 20, 10, "total_return", opts)
	if err != nil {
		t.Fatalf("analyze A: %v", err)
	}
	resB, err := Analyze(context.Background(), mkSeries(testB), factory, grid, 20, 10, "total_return", opts)
	if err != nil {
		t.Fatalf("analyze B: %v", err)
	}
	if len(resA.Windows) != 1 || len(resB.Windows) != 1 {
		t.Fatalf("expected a single window each, got %d and %d", len(resA.Windows), len(resB.Windows))
	}
	if !reflect.DeepEqual(resA.Windows[0].Params, resB.Windows[0].Params) {
		t.Fatalf("test data changed chosen params: %v vs %v", resA.Windows[0].Params, resB.Windows[0].Params)
	}
	if resA.Windows[0].InSample != resB.Windows[0].InSample {
		t.Fatal("in-sample metrics should not depend on test data")
	}
	if resA.OOSMetrics.TotalReturn == resB.OOSMetrics.TotalReturn {
		t.Fatal("scenario broken: opposite test regimes produced equal OOS returns")
	}
}

func TestAnalyzeRequiresOneFullWindow(t *testing.T) {
	bars := seriesFromCloses("S", 100, 101, 102, 103, 104)
	hold, _ := strategies.Lookup("buy_hold")
	opts := Options{Sim: engine.SimConfig{InitialCapital: 10000}}

	_, err := Analyze(context.Background(), bars, hold, optimize.Grid{"x": {1}}, 10, 5, "sharpe_ratio", opts)
	if !engine.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestAnalyzeRejectsBadGeometry(t *testing.T) {
	bars := seriesFromCloses("S", 100, 101, 102)
	hold, _ := strategies.Lookup("buy_hold")
	opts := Options{Sim: engine.SimConfig{InitialCapital: 10000}}

	if _, err := Analyze(context.Background(), bars, hold, optimize.Grid{"x": {1}}, 0, 5, "sharpe_ratio", opts); !engine.IsConfigError(err) {
		t.Fatalf("zero window: got %v", err)
	}
	if _, err := Analyze(context.Background(), bars, hold, optimize.Grid{"x": {1}}, 2, -1, "sharpe_ratio", opts); !engine.IsConfigError(err) {
		t.Fatalf("negative step: got %v", err)
	}
}

func TestAnalyzeAllWindowsFailed(t *testing.T) {
	bars := seriesFromCloses("S", 100, 101, 102, 103, 104, 105, 106, 107)
	broken := strategies.FuncFactory("broken", func(b *engine.BarSeries, p strategies.Params) (engine.SignalSeries, error) {
		return nil, engine.NewDataError("always broken")
	})
	opts := Options{Sim: engine.SimConfig{InitialCapital: 10000}}

	_, err := Analyze(context.Background(), bars, broken, optimize.Grid{"x": {1}}, 4, 2, "sharpe_ratio", opts)
	if !engine.IsAnalysisFailed(err) {
		t.Fatalf("expected analysis failure, got %v", err)
	}
}
