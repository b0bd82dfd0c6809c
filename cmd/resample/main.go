// Command resample rewrites a bar CSV at a coarser cadence. Buckets keep
// the first open and last close, take the high/low extremes, sum volume,
// and floor their timestamps to the target grid.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quantsim/services/engine"
	"quantsim/services/marketdata"
)

func main() {
	var (
		csvPath = flag.String("csv", "", "input CSV path (timestamp_ms,open,high,low,close,volume)")
		outPath = flag.String("out", "", "output CSV path")
		symbol  = flag.String("symbol", "BTCUSDT", "symbol label for validation and logs")
		target  = flag.String("target", "15m", "target cadence: a Go duration like 15m or 1h, or bare minutes")
	)
	flag.Parse()

	if *csvPath == "" || *outPath == "" {
		fail("-csv and -out are required")
	}
	targetMs, err := parseCadence(*target)
	if err != nil {
		fail("parse target: %v", err)
	}

	series, err := marketdata.NewLoader(nil).LoadCSV(*csvPath, *symbol)
	if err != nil {
		fail("load bars: %v", err)
	}
	cadence := marketdata.DetectCadence(series.Bars)
	fmt.Printf("Loaded %d bars for %s (cadence %s)\n",
		series.Len(), series.Symbol, time.Duration(cadence)*time.Millisecond)

	out, err := marketdata.Resample(series, targetMs)
	if err != nil {
		fail("resample: %v", err)
	}
	if err := writeBarsCSV(*outPath, out.Bars); err != nil {
		fail("write %s: %v", *outPath, err)
	}
	fmt.Printf("Wrote %d bars at %s to %s\n",
		out.Len(), time.Duration(targetMs)*time.Millisecond, *outPath)
}

// parseCadence accepts Go durations ("15m", "1h") and bare numbers, which
// mean minutes. The result is in milliseconds.
func parseCadence(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("cadence must be positive, got %d", n)
		}
		return uint64(n) * 60_000, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported cadence %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("cadence must be positive, got %s", d)
	}
	return uint64(d / time.Millisecond), nil
}

func writeBarsCSV(path string, bars []engine.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			strconv.FormatUint(b.Timestamp, 10),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
