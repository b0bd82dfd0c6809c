package strategies

import (
	"testing"

	"quantsim/services/engine"
)

func series(closes ...float64) *engine.BarSeries {
	bars := make([]engine.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := open, c
		if c > open {
			hi = c
			lo = open
		}
		bars[i] = engine.Bar{
			Timestamp: uint64(i+1) * 86400000,
			Open:      open, High: hi, Low: lo, Close: c,
			Volume: 1,
		}
	}
	return engine.NewBarSeries("TEST", bars)
}

func rampUp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func rampDown(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 - float64(i)
	}
	return out
}

func TestMACrossTrendDirection(t *testing.T) {
	s, err := NewMACross(Params{"fast_period": 2, "slow_period": 3})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	up, err := s.Signals(series(rampUp(10)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i := 0; i < 2; i++ {
		if up[i] != engine.SignalFlat {
			t.Fatalf("bar %d inside warmup must be flat, got %v", i, up[i])
		}
	}
	for i := 2; i < len(up); i++ {
		if up[i] != engine.SignalLong {
			t.Fatalf("bar %d of rising series: %v, want LONG", i, up[i])
		}
	}

	down, err := s.Signals(series(rampDown(10)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i := 2; i < len(down); i++ {
		if down[i] != engine.SignalShort {
			t.Fatalf("bar %d of falling series: %v, want SHORT", i, down[i])
		}
	}
}

func TestMACrossRejectsInvertedPeriods(t *testing.T) {
	if _, err := NewMACross(Params{"fast_period": 26, "slow_period": 12}); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for fast >= slow, got %v", err)
	}
	if _, err := NewMACross(Params{"fast_period": 0, "slow_period": 5}); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for zero period, got %v", err)
	}
}

func TestRSIReversionExtremes(t *testing.T) {
	s, err := NewRSIReversion(Params{"period": 3, "lower": 30, "upper": 70})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	// monotone gains pin RSI at 100, beyond any upper bound
	up, err := s.Signals(series(rampUp(8)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i := 0; i < 3; i++ {
		if up[i] != engine.SignalFlat {
			t.Fatalf("warmup bar %d: %v, want flat", i, up[i])
		}
	}
	for i := 3; i < len(up); i++ {
		if up[i] != engine.SignalShort {
			t.Fatalf("bar %d with RSI 100: %v, want SHORT", i, up[i])
		}
	}

	down, err := s.Signals(series(rampDown(8)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i := 3; i < len(down); i++ {
		if down[i] != engine.SignalLong {
			t.Fatalf("bar %d with RSI 0: %v, want LONG", i, down[i])
		}
	}
}

func TestRSIReversionDegenerateBoundsStayFlat(t *testing.T) {
	s, err := NewRSIReversion(Params{"period": 3, "lower": 0, "upper": 100})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sig, err := s.Signals(series(rampUp(8)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i, v := range sig {
		if v != engine.SignalFlat {
			t.Fatalf("bar %d: %v, RSI can never exceed [0,100]", i, v)
		}
	}
}

func TestRSIReversionRejectsBadBounds(t *testing.T) {
	if _, err := NewRSIReversion(Params{"period": 14, "lower": 70, "upper": 30}); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for inverted bounds, got %v", err)
	}
}

func TestDonchianBreakoutLifecycle(t *testing.T) {
	bars := engine.NewBarSeries("TEST", []engine.Bar{
		{Timestamp: 1, Open: 9.5, High: 10, Low: 9, Close: 9.5, Volume: 1},
		{Timestamp: 2, Open: 9.5, High: 10, Low: 9, Close: 9.5, Volume: 1},
		{Timestamp: 3, Open: 9.5, High: 10.6, Low: 9.4, Close: 10.5, Volume: 1}, // clears prior high 10
		{Timestamp: 4, Open: 10.5, High: 10.6, Low: 10.0, Close: 10.2, Volume: 1},
		{Timestamp: 5, Open: 10.2, High: 10.3, Low: 9.5, Close: 9.6, Volume: 1}, // falls through basis
		{Timestamp: 6, Open: 9.6, High: 9.7, Low: 9.2, Close: 9.3, Volume: 1},   // breaks prior low 9.5
	})

	s, err := NewDonchianBreakout(Params{"period": 2})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sig, err := s.Signals(bars)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}

	want := engine.SignalSeries{
		engine.SignalFlat, engine.SignalFlat,
		engine.SignalLong, engine.SignalLong,
		engine.SignalFlat, engine.SignalShort,
	}
	for i := range want {
		if sig[i] != want[i] {
			t.Fatalf("bar %d: %v, want %v", i, sig[i], want[i])
		}
	}
}

func TestBuyHoldConstantWeight(t *testing.T) {
	s, err := NewBuyHold(Params{"weight": 0.5})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sig, err := s.Signals(series(rampUp(5)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	for i, v := range sig {
		if v != 0.5 {
			t.Fatalf("bar %d: %v, want constant 0.5", i, v)
		}
	}

	if _, err := NewBuyHold(Params{"weight": 1.5}); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for weight > 1, got %v", err)
	}
}

func TestFuncWrapsCustomLogic(t *testing.T) {
	var seen Params
	fn := func(bars *engine.BarSeries, params Params) (engine.SignalSeries, error) {
		seen = params
		out := make(engine.SignalSeries, bars.Len())
		for i := range out {
			out[i] = engine.SignalLong
		}
		return out, nil
	}

	s, err := NewFunc("my_edge", Params{"threshold": 1.5}, fn)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if s.Name() != "my_edge" {
		t.Fatalf("name %q, want my_edge", s.Name())
	}
	sig, err := s.Signals(series(rampUp(4)...))
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if len(sig) != 4 || sig[0] != engine.SignalLong {
		t.Fatalf("unexpected signals %v", sig)
	}
	if seen["threshold"] != 1.5 {
		t.Fatalf("params not forwarded, saw %v", seen)
	}

	if _, err := NewFunc("", nil, fn); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for empty name, got %v", err)
	}
	if _, err := NewFunc("x", nil, nil); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for nil fn, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	names := Names()
	if len(names) != 4 {
		t.Fatalf("registry size %d, want 4 built-ins", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
	for _, name := range names {
		f, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		if f == nil {
			t.Fatalf("lookup %q returned nil factory", name)
		}
	}
	if _, err := Lookup("nope"); !engine.IsConfigError(err) {
		t.Fatalf("want ConfigError for unknown name, got %v", err)
	}
}

func TestBuiltinsAlignAndStayInRange(t *testing.T) {
	bars := series(rampUp(40)...)
	for _, name := range Names() {
		f, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		s, err := f(Params{})
		if err != nil {
			t.Fatalf("%s: default params rejected: %v", name, err)
		}
		sig, err := s.Signals(bars)
		if err != nil {
			t.Fatalf("%s: signals: %v", name, err)
		}
		if len(sig) != bars.Len() {
			t.Fatalf("%s: %d signals for %d bars", name, len(sig), bars.Len())
		}
		if err := sig.Validate(bars.Len()); err != nil {
			t.Fatalf("%s: invalid series: %v", name, err)
		}
	}
}
