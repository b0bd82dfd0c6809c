package engine

import "testing"

func TestResolveFirstTouchLong(t *testing.T) {
	bar := Bar{Open: 100, High: 110, Low: 90, Close: 105}
	if ResolveFirstTouchLong(bar, 108, 95) != TouchTP {
		t.Fatal("expected TP first")
	}
}

func TestResolveFirstTouchLongStopCloserToOpen(t *testing.T) {
	// low is nearer to the open than the high, so the stop is touched first
	bar := Bar{Open: 100, High: 112, Low: 96, Close: 110}
	if ResolveFirstTouchLong(bar, 110, 97) != TouchSL {
		t.Fatal("expected SL first when the low sits closer to the open")
	}
}

func TestResolveFirstTouchShort(t *testing.T) {
	bar := Bar{Open: 100, High: 110, Low: 90, Close: 95}
	if ResolveFirstTouchShort(bar, 92, 105) != TouchTP { // tp below, sl above
		t.Fatal("expected TP first for short")
	}
}

func TestResolveFirstTouchNone(t *testing.T) {
	bar := Bar{Open: 100, High: 101, Low: 99, Close: 100.5}
	if ResolveFirstTouchLong(bar, 105, 95) != TouchNone {
		t.Fatal("expected no touch inside a narrow bar")
	}
}

func TestFillPriceStopGapThrough(t *testing.T) {
	// long stop at 95 but the bar opens at 92: filled at the open
	bar := Bar{Open: 92, High: 96, Low: 91, Close: 94}
	if got := FillPriceStop(TradeSideSell, 95, bar); got != 92 {
		t.Fatalf("expected gap fill at open, got %v", got)
	}
	// no gap: filled at the stop
	bar = Bar{Open: 97, High: 98, Low: 94, Close: 95}
	if got := FillPriceStop(TradeSideSell, 95, bar); got != 95 {
		t.Fatalf("expected fill at stop, got %v", got)
	}
}

func TestFillPriceLimitGapThrough(t *testing.T) {
	// long take-profit at 105 and the bar opens at 107: improved fill at open
	bar := Bar{Open: 107, High: 108, Low: 104, Close: 106}
	if got := FillPriceLimit(TradeSideSell, 105, bar); got != 107 {
		t.Fatalf("expected improved fill at open, got %v", got)
	}
	bar = Bar{Open: 103, High: 106, Low: 102, Close: 104}
	if got := FillPriceLimit(TradeSideSell, 105, bar); got != 105 {
		t.Fatalf("expected fill at limit, got %v", got)
	}
}
