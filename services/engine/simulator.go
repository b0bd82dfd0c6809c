package engine

// Bar-by-bar signal replay. One simulation is a strictly sequential fold over
// time; parallelism only ever exists across independent runs.

import (
	"fmt"
	"math"
)

// tradeOpen holds ledger metadata for the position currently open.
type tradeOpen struct {
	basePrice float64 // un-slipped reference open
	fillPrice float64
	entryFee  float64
	notional  float64
	entryTs   uint64
	entryIdx  int
	tp        float64
	sl        float64
}

type simState struct {
	symbol string
	cfg    SimConfig
	fees   FeeModel
	slip   SlippageModel

	cash   float64
	acct   AccountPosition
	open   tradeOpen
	held   Signal
	trades []Trade
	events *EventLog

	barsInPosition int
}

// Simulate replays signals against bars under cfg and returns the immutable
// result. The execution convention is act-at-next-open: the signal computed
// on bar i is filled at bar i+1's open, so no fill ever uses information from
// its own bar. A signal on the first bar therefore produces no fill before
// bar 2, and a series that never changes produces a valid mark-to-market
// equity curve with zero trades.
func Simulate(bars *BarSeries, signals SignalSeries, cfg SimConfig) (*BacktestResult, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}
	if err := signals.Validate(bars.Len()); err != nil {
		return nil, err
	}

	n := bars.Len()
	st := &simState{
		symbol: bars.Symbol,
		cfg:    cfg,
		fees:   cfg.feeModel(),
		slip:   cfg.slippageModel(),
		cash:   cfg.InitialCapital,
		events: &EventLog{},
	}
	curve := make(EquityCurve, 0, n)

	for i := 0; i < n; i++ {
		bar := bars.Bars[i]

		// Pending transition decided on the prior bar executes at this open.
		if i > 0 && signals[i-1] != st.held {
			st.transition(signals[i-1], bar, i)
		}

		// Intrabar TP/SL overlay, evaluated from the entry bar onward.
		if st.acct.Side != SideFlat {
			st.resolveOverlay(bar, i)
		}

		equity := st.cash + st.acct.MarketValue(bar.Close)
		curve = append(curve, EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
		if st.acct.Side != SideFlat {
			st.barsInPosition++
		}
	}

	return &BacktestResult{
		Symbol:         bars.Symbol,
		Config:         cfg,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    curve.Final(),
		EquityCurve:    curve,
		Trades:         st.trades,
		Events:         st.events,
		BarsInPosition: st.barsInPosition,
	}, nil
}

// transition closes any open position at this bar's open and opens the
// desired one. A weight change is executed as a full close and reopen, which
// keeps every ledger entry a single constant-weight holding period.
func (st *simState) transition(desired Signal, bar Bar, idx int) {
	if st.acct.Side != SideFlat {
		exitSide := TradeSideSell
		if st.acct.Side == SideShort {
			exitSide = TradeSideBuy
		}
		fill := st.slip.Apply(exitSide, bar.Open)
		st.closePosition(fill, bar.Open, bar.Timestamp, idx, ExitReasonSignal, EventExitFill)
	}
	if desired != 0 {
		st.openPosition(desired, bar, idx)
	}
	st.held = desired
}

func (st *simState) openPosition(weight Signal, bar Bar, idx int) {
	entrySide := TradeSideBuy
	side := SideLong
	if weight < 0 {
		entrySide = TradeSideSell
		side = SideShort
	}
	base := bar.Open
	fill := st.slip.Apply(entrySide, base)
	notional := math.Abs(float64(weight)) * st.cfg.SizingFraction * st.cash
	if notional <= 0 || fill <= 0 {
		return
	}
	qty := notional / fill
	fee := st.fees.Compute(fill, qty)

	st.acct.ApplyFill(entrySide, fill, qty)
	if entrySide == TradeSideBuy {
		st.cash -= fill * qty
	} else {
		st.cash += fill * qty
	}
	st.cash -= fee

	st.open = tradeOpen{
		basePrice: base,
		fillPrice: fill,
		entryFee:  fee,
		notional:  notional,
		entryTs:   bar.Timestamp,
		entryIdx:  idx,
	}
	st.open.tp, st.open.sl = overlayLevels(side, fill, st.cfg)

	st.events.Append(Event{Ts: bar.Timestamp, Type: EventEntryFill, Symbol: st.symbol, Details: map[string]string{
		"side":  side.String(),
		"price": fmt.Sprintf("%.8f", fill),
		"qty":   fmt.Sprintf("%.8f", qty),
	}})
}

// overlayLevels converts percent distances into touch levels. Disabled
// levels are mapped to values no price can reach.
func overlayLevels(side PositionSide, entry float64, cfg SimConfig) (tp, sl float64) {
	if side == SideLong {
		tp, sl = math.Inf(1), 0
		if cfg.TakeProfitPct > 0 {
			tp = entry * (1 + cfg.TakeProfitPct)
		}
		if cfg.StopLossPct > 0 {
			sl = entry * (1 - cfg.StopLossPct)
		}
		return tp, sl
	}
	tp, sl = 0, math.Inf(1)
	if cfg.TakeProfitPct > 0 {
		tp = entry * (1 - cfg.TakeProfitPct)
	}
	if cfg.StopLossPct > 0 {
		sl = entry * (1 + cfg.StopLossPct)
	}
	return tp, sl
}

func (st *simState) resolveOverlay(bar Bar, idx int) {
	if st.cfg.TakeProfitPct == 0 && st.cfg.StopLossPct == 0 {
		return
	}
	var touch FirstTouchResult
	exitSide := TradeSideSell
	if st.acct.Side == SideLong {
		touch = ResolveFirstTouchLong(bar, st.open.tp, st.open.sl)
	} else {
		exitSide = TradeSideBuy
		touch = ResolveFirstTouchShort(bar, st.open.tp, st.open.sl)
	}
	switch touch {
	case TouchTP:
		base := FillPriceLimit(exitSide, st.open.tp, bar)
		fill := st.slip.Apply(exitSide, base)
		st.closePosition(fill, base, bar.Timestamp, idx, ExitReasonTakeProfit, EventTakeProfitHit)
		st.held = 0
	case TouchSL:
		base := FillPriceStop(exitSide, st.open.sl, bar)
		fill := st.slip.Apply(exitSide, base)
		st.closePosition(fill, base, bar.Timestamp, idx, ExitReasonStopLoss, EventStopHit)
		st.held = 0
	}
}

func (st *simState) closePosition(fill, base float64, ts uint64, idx int, reason string, ev EventType) {
	side := st.acct.Side
	qty := st.acct.Quantity
	entryFill := st.acct.AvgPrice
	exitSide := TradeSideSell
	if side == SideShort {
		exitSide = TradeSideBuy
	}

	fee := st.fees.Compute(fill, qty)
	before := st.acct.RealizedPnl
	st.acct.ApplyFill(exitSide, fill, qty)
	realized := st.acct.RealizedPnl - before

	if exitSide == TradeSideSell {
		st.cash += fill * qty
	} else {
		st.cash -= fill * qty
	}
	st.cash -= fee

	gross := (base - st.open.basePrice) * qty
	if side == SideShort {
		gross = (st.open.basePrice - base) * qty
	}
	net := realized - fee - st.open.entryFee
	ret := 0.0
	if st.open.notional > 0 {
		ret = net / st.open.notional
	}

	st.trades = append(st.trades, Trade{
		Symbol:         st.symbol,
		EntryTimestamp: st.open.entryTs,
		ExitTimestamp:  ts,
		Direction:      side,
		EntryPrice:     entryFill,
		ExitPrice:      fill,
		Size:           qty,
		GrossPnL:       gross,
		NetPnL:         net,
		ReturnPct:      ret,
		ExitReason:     reason,
		Bars:           idx - st.open.entryIdx + 1,
	})
	st.events.Append(Event{Ts: ts, Type: ev, Symbol: st.symbol, Details: map[string]string{
		"reason": reason,
		"price":  fmt.Sprintf("%.8f", fill),
	}})
	st.open = tradeOpen{}
}
