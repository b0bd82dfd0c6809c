package strategies

import "quantsim/services/engine"

// SignalFunc is a pure user-supplied signal generator.
type SignalFunc func(bars *engine.BarSeries, params Params) (engine.SignalSeries, error)

// Func adapts an arbitrary pure function to the Strategy interface so callers
// can run custom logic through the same optimizer and analyzer paths as the
// built-ins.
type Func struct {
	name   string
	params Params
	fn     SignalFunc
}

// NewFunc wraps fn under the given name with a fixed parameter assignment.
func NewFunc(name string, params Params, fn SignalFunc) (*Func, error) {
	if name == "" {
		return nil, engine.NewConfigError("custom strategy needs a name")
	}
	if fn == nil {
		return nil, engine.NewConfigError("custom strategy %q needs a signal function", name)
	}
	return &Func{name: name, params: params.Clone(), fn: fn}, nil
}

// FuncFactory turns fn into a Factory, binding whatever parameters the
// optimizer assigns per evaluation.
func FuncFactory(name string, fn SignalFunc) Factory {
	return func(p Params) (Strategy, error) {
		return NewFunc(name, p, fn)
	}
}

func (s *Func) Name() string { return s.name }

func (s *Func) Signals(bars *engine.BarSeries) (engine.SignalSeries, error) {
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	return s.fn(bars, s.params)
}
