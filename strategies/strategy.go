package strategies

// Built-in signal generators. A strategy is a pure mapping from a bar series
// to a target-weight series: no I/O, no state outside its parameters, and
// warmup bars always emit flat.

import (
	"sort"

	"quantsim/services/engine"
)

// Params is one concrete parameter assignment. Integer parameters (periods,
// lookbacks) travel as float64 so optimizer grids stay homogeneous; factories
// truncate and validate.
type Params map[string]float64

// Get returns the named parameter or def when absent.
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// GetInt truncates the named parameter to an int, or returns def when absent.
func (p Params) GetInt(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return def
}

// Clone copies the assignment so evaluations cannot alias each other.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Strategy turns a bar series into aligned target weights in [-1, 1].
type Strategy interface {
	Name() string
	Signals(bars *engine.BarSeries) (engine.SignalSeries, error)
}

// Factory builds a strategy from a parameter assignment. Invalid parameters
// are ConfigErrors; factories never repair them.
type Factory func(params Params) (Strategy, error)

var builtins = map[string]Factory{
	"ma_cross":          NewMACross,
	"rsi_reversion":     NewRSIReversion,
	"donchian_breakout": NewDonchianBreakout,
	"buy_hold":          NewBuyHold,
}

// Lookup resolves a built-in factory by registry name.
func Lookup(name string) (Factory, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, engine.NewConfigError("unknown strategy %q (have %v)", name, Names())
	}
	return f, nil
}

// Names lists the built-in registry names in sorted order.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
