// Package marketdata turns raw OHLCV files into validated bar series. The
// loader is forgiving about the file (quoting, headers, BOM, shuffled or
// duplicated rows) and strict about the output: whatever survives parsing
// must pass the engine's series validation untouched. Gaps are reported,
// never filled.
package marketdata

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"quantsim/services/engine"
)

// Loader reads CSV files laid out as timestamp_ms,open,high,low,close,volume
// with an optional header row.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadCSV reads one file into a validated series for symbol.
func (l *Loader) LoadCSV(path, symbol string) (*engine.BarSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engine.NewDataError("open %s: %v", path, err)
	}
	defer f.Close()
	series, err := l.Read(f, symbol)
	if err != nil {
		return nil, err
	}
	return series, nil
}

// Read parses CSV rows from r. Unparseable rows are skipped and counted;
// rows are sorted by timestamp and duplicate timestamps keep the last row
// seen. The assembled series must pass validation or the whole read fails.
func (l *Loader) Read(r io.Reader, symbol string) (*engine.BarSeries, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	// Some exchange exports arrive as UTF-16. ExpectBOM strips the marker
	// and picks the endianness from it.
	if b, _ := br.Peek(2); len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		src = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}
	cr := csv.NewReader(src)
	cr.ReuseRecord = false
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	bars := make([]engine.Bar, 0, 1024)
	line := 0
	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil || len(rec) < 5 {
			skipped++
			continue
		}

		tsStr := strings.TrimPrefix(strings.TrimSpace(rec[0]), "﻿")
		if line == 1 && (strings.EqualFold(tsStr, "timestamp") || strings.EqualFold(tsStr, "timestamp_ms")) {
			continue
		}
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil || ts < 0 {
			skipped++
			continue
		}

		open, err1 := decimal.NewFromString(strings.TrimSpace(rec[1]))
		high, err2 := decimal.NewFromString(strings.TrimSpace(rec[2]))
		low, err3 := decimal.NewFromString(strings.TrimSpace(rec[3]))
		closep, err4 := decimal.NewFromString(strings.TrimSpace(rec[4]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			skipped++
			continue
		}
		volume := decimal.Zero
		if len(rec) > 5 {
			if v, err := decimal.NewFromString(strings.TrimSpace(rec[5])); err == nil {
				volume = v
			}
		}

		bars = append(bars, engine.Bar{
			Timestamp: uint64(ts),
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     closep.InexactFloat64(),
			Volume:    volume.InexactFloat64(),
		})
	}

	parsed := len(bars)
	bars = dedupeSorted(bars)

	series := engine.NewBarSeries(symbol, bars)
	if err := series.Validate(); err != nil {
		return nil, err
	}

	cadence := DetectCadence(bars)
	gaps := CountGaps(bars, cadence)
	l.logger.Info("loaded bar series",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
		zap.Int("skipped_rows", skipped),
		zap.Int("duplicate_rows", parsed-len(bars)),
		zap.Uint64("cadence_ms", cadence),
		zap.Int("gaps", gaps))
	return series, nil
}

// dedupeSorted sorts by timestamp and collapses duplicates, keeping the last
// row seen for a timestamp. The sort is stable so "last seen" means file
// order, not luck.
func dedupeSorted(bars []engine.Bar) []engine.Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	uniq := bars[:1]
	for _, b := range bars[1:] {
		if b.Timestamp == uniq[len(uniq)-1].Timestamp {
			uniq[len(uniq)-1] = b
			continue
		}
		uniq = append(uniq, b)
	}
	return uniq
}

// DetectCadence returns the most common delta between consecutive bars, in
// milliseconds, sampling at most the first 2000 steps. Zero means the series
// is too short to tell.
func DetectCadence(bars []engine.Bar) uint64 {
	if len(bars) < 2 {
		return 0
	}
	limit := len(bars)
	if limit > 2000 {
		limit = 2000
	}
	counts := make(map[uint64]int)
	for i := 1; i < limit; i++ {
		if d := bars[i].Timestamp - bars[i-1].Timestamp; d > 0 {
			counts[d]++
		}
	}
	var best uint64
	bestCount := 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}

// CountGaps counts steps longer than the cadence. The bars themselves are
// left alone.
func CountGaps(bars []engine.Bar, cadence uint64) int {
	if cadence == 0 {
		return 0
	}
	gaps := 0
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp-bars[i-1].Timestamp > cadence {
			gaps++
		}
	}
	return gaps
}
