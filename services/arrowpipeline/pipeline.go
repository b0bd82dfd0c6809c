// Package arrowpipeline serializes bar series and equity curves as Apache
// Arrow IPC streams, the interchange format consumed by notebook and
// dashboard tooling.
package arrowpipeline

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"quantsim/services/engine"
)

// ContentType is the media type served for Arrow IPC stream payloads.
const ContentType = "application/vnd.apache.arrow.stream"

// Pipeline owns the allocator shared by all conversions.
type Pipeline struct {
	pool   memory.Allocator
	logger *zap.Logger
}

func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{pool: memory.NewGoAllocator(), logger: logger}
}

// BarSchema lays out one OHLCV row per bar.
var BarSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EquitySchema lays out one mark per row; drawdown is the fractional
// distance below the running peak at that mark.
var EquitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drawdown", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EncodeBars renders a series as a single-record IPC stream.
func (p *Pipeline) EncodeBars(series *engine.BarSeries) ([]byte, error) {
	if series == nil || series.Len() == 0 {
		return nil, engine.NewDataError("no bars to encode")
	}
	n := series.Len()
	symbols := make([]string, n)
	timestamps := make([]uint64, n)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range series.Bars {
		symbols[i] = series.Symbol
		timestamps[i] = b.Timestamp
		opens[i] = b.Open
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	symbolBuilder := array.NewStringBuilder(p.pool)
	symbolBuilder.AppendValues(symbols, nil)
	symbolArray := symbolBuilder.NewStringArray()

	timestampBuilder := array.NewUint64Builder(p.pool)
	timestampBuilder.AppendValues(timestamps, nil)
	timestampArray := timestampBuilder.NewUint64Array()

	openBuilder := array.NewFloat64Builder(p.pool)
	openBuilder.AppendValues(opens, nil)
	openArray := openBuilder.NewFloat64Array()

	highBuilder := array.NewFloat64Builder(p.pool)
	highBuilder.AppendValues(highs, nil)
	highArray := highBuilder.NewFloat64Array()

	lowBuilder := array.NewFloat64Builder(p.pool)
	lowBuilder.AppendValues(lows, nil)
	lowArray := lowBuilder.NewFloat64Array()

	closeBuilder := array.NewFloat64Builder(p.pool)
	closeBuilder.AppendValues(closes, nil)
	closeArray := closeBuilder.NewFloat64Array()

	volumeBuilder := array.NewFloat64Builder(p.pool)
	volumeBuilder.AppendValues(volumes, nil)
	volumeArray := volumeBuilder.NewFloat64Array()

	record := array.NewRecord(BarSchema, []arrow.Array{
		symbolArray,
		timestampArray,
		openArray,
		highArray,
		lowArray,
		closeArray,
		volumeArray,
	}, int64(n))
	defer record.Release()

	out, err := writeStream(BarSchema, record)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("encoded bar series",
		zap.String("symbol", series.Symbol), zap.Int("bars", n), zap.Int("bytes", len(out)))
	return out, nil
}

// EncodeEquity renders an equity curve as a single-record IPC stream,
// deriving the drawdown column from the running peak.
func (p *Pipeline) EncodeEquity(curve engine.EquityCurve) ([]byte, error) {
	if len(curve) == 0 {
		return nil, engine.NewDataError("no equity points to encode")
	}
	n := len(curve)
	timestamps := make([]uint64, n)
	equities := make([]float64, n)
	drawdowns := make([]float64, n)
	peak := curve[0].Equity
	for i, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		timestamps[i] = pt.Timestamp
		equities[i] = pt.Equity
		if peak > 0 {
			drawdowns[i] = (peak - pt.Equity) / peak
		}
	}

	timestampBuilder := array.NewUint64Builder(p.pool)
	timestampBuilder.AppendValues(timestamps, nil)
	timestampArray := timestampBuilder.NewUint64Array()

	equityBuilder := array.NewFloat64Builder(p.pool)
	equityBuilder.AppendValues(equities, nil)
	equityArray := equityBuilder.NewFloat64Array()

	drawdownBuilder := array.NewFloat64Builder(p.pool)
	drawdownBuilder.AppendValues(drawdowns, nil)
	drawdownArray := drawdownBuilder.NewFloat64Array()

	record := array.NewRecord(EquitySchema, []arrow.Array{
		timestampArray,
		equityArray,
		drawdownArray,
	}, int64(n))
	defer record.Release()

	out, err := writeStream(EquitySchema, record)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("encoded equity curve", zap.Int("points", n), zap.Int("bytes", len(out)))
	return out, nil
}

// writeStream serializes one record. The writer is closed before the bytes
// are taken so the stream carries its end marker.
func writeStream(schema *arrow.Schema, record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(record); err != nil {
		w.Close()
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow stream: %w", err)
	}
	return buf.Bytes(), nil
}
