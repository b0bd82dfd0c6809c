package arrowpipeline

import (
	"bytes"
	"math"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"

	"quantsim/services/engine"
)

func decodeSingleRecord(t *testing.T, data []byte) (*ipc.Reader, func()) {
	t.Helper()
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	if !r.Next() {
		t.Fatalf("stream has no record: %v", r.Err())
	}
	return r, func() { r.Release() }
}

func TestEncodeBarsRoundTrip(t *testing.T) {
	series := &engine.BarSeries{
		Symbol: "BTCUSDT",
		Bars: []engine.Bar{
			{Timestamp: 1000, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
			{Timestamp: 2000, Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 150},
			{Timestamp: 3000, Open: 11.5, High: 11.6, Low: 10.9, Close: 11, Volume: 90},
		},
	}

	data, err := NewPipeline(nil).EncodeBars(series)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	r, done := decodeSingleRecord(t, data)
	defer done()

	want := []string{"symbol", "timestamp", "open", "high", "low", "close", "volume"}
	fields := r.Schema().Fields()
	if len(fields) != len(want) {
		t.Fatalf("schema has %d fields, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f.Name != want[i] {
			t.Fatalf("field %d is %q, want %q", i, f.Name, want[i])
		}
	}

	rec := r.Record()
	if rec.NumRows() != 3 {
		t.Fatalf("record has %d rows, want 3", rec.NumRows())
	}
	symbols := rec.Column(0).(*array.String)
	for i := 0; i < symbols.Len(); i++ {
		if symbols.Value(i) != "BTCUSDT" {
			t.Fatalf("row %d symbol = %q, want BTCUSDT", i, symbols.Value(i))
		}
	}
	timestamps := rec.Column(1).(*array.Uint64)
	closes := rec.Column(5).(*array.Float64)
	for i, b := range series.Bars {
		if timestamps.Value(i) != b.Timestamp {
			t.Fatalf("row %d timestamp = %d, want %d", i, timestamps.Value(i), b.Timestamp)
		}
		if closes.Value(i) != b.Close {
			t.Fatalf("row %d close = %v, want %v", i, closes.Value(i), b.Close)
		}
	}
	if r.Next() {
		t.Fatal("stream has more than one record")
	}
}

func TestEncodeEquityComputesDrawdown(t *testing.T) {
	curve := engine.EquityCurve{
		{Timestamp: 1, Equity: 100},
		{Timestamp: 2, Equity: 120},
		{Timestamp: 3, Equity: 90},
		{Timestamp: 4, Equity: 120},
		{Timestamp: 5, Equity: 110},
	}

	data, err := NewPipeline(nil).EncodeEquity(curve)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	r, done := decodeSingleRecord(t, data)
	defer done()

	rec := r.Record()
	if rec.NumRows() != int64(len(curve)) {
		t.Fatalf("record has %d rows, want %d", rec.NumRows(), len(curve))
	}
	equities := rec.Column(1).(*array.Float64)
	drawdowns := rec.Column(2).(*array.Float64)
	wantDD := []float64{0, 0, 0.25, 0, 10.0 / 120.0}
	for i := range curve {
		if equities.Value(i) != curve[i].Equity {
			t.Fatalf("row %d equity = %v, want %v", i, equities.Value(i), curve[i].Equity)
		}
		if math.Abs(drawdowns.Value(i)-wantDD[i]) > 1e-12 {
			t.Fatalf("row %d drawdown = %v, want %v", i, drawdowns.Value(i), wantDD[i])
		}
	}
}

func TestEncodeRejectsEmptyInput(t *testing.T) {
	p := NewPipeline(nil)
	if _, err := p.EncodeBars(nil); !engine.IsDataError(err) {
		t.Fatalf("EncodeBars(nil) error = %v, want data error", err)
	}
	if _, err := p.EncodeBars(&engine.BarSeries{Symbol: "X"}); !engine.IsDataError(err) {
		t.Fatalf("EncodeBars(empty) error = %v, want data error", err)
	}
	if _, err := p.EncodeEquity(nil); !engine.IsDataError(err) {
		t.Fatalf("EncodeEquity(nil) error = %v, want data error", err)
	}
}
