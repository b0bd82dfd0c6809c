package main

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"quantsim/services/engine"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams(" fast_period=5, slow_period=20 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params["fast_period"] != 5 || params["slow_period"] != 20 {
		t.Fatalf("params = %v", params)
	}

	params, err = parseParams("")
	if err != nil || len(params) != 0 {
		t.Fatalf("empty parse = %v, %v", params, err)
	}

	if _, err := parseParams("period"); err == nil {
		t.Fatal("missing value accepted")
	}
	if _, err := parseParams("period=fast"); err == nil {
		t.Fatal("non-numeric value accepted")
	}
}

func TestWriteEquityCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equity.csv")
	curve := engine.EquityCurve{
		{Timestamp: 1000, Equity: 10000},
		{Timestamp: 2000, Equity: 10100.5},
	}
	if err := writeEquityCSV(path, curve); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][1] != "equity" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[2][0] != "2000" || rows[2][1] != "10100.5" {
		t.Fatalf("last row = %v", rows[2])
	}
}

func TestWriteTradesCSVScrubsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	trades := []engine.Trade{{
		Symbol:         "BTCUSDT",
		Direction:      engine.SideLong,
		EntryTimestamp: 1000,
		EntryPrice:     100,
		ExitTimestamp:  2000,
		ExitPrice:      110,
		Size:           1,
		GrossPnL:       10,
		NetPnL:         math.NaN(),
		ReturnPct:      0.1,
		ExitReason:     "signal",
		Bars:           1,
	}}
	if err := writeTradesCSV(path, trades); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(rows))
	}
	row := rows[1]
	if row[1] != "LONG" {
		t.Fatalf("direction = %q", row[1])
	}
	if row[8] != "" {
		t.Fatalf("NaN net_pnl serialized as %q, want empty", row[8])
	}
	if row[9] != "0.1" {
		t.Fatalf("return_pct = %q", row[9])
	}
}

func TestFormatFloat(t *testing.T) {
	if got := formatFloat(1.25); got != "1.25" {
		t.Fatalf("formatFloat(1.25) = %q", got)
	}
	if got := formatFloat(math.Inf(1)); got != "" {
		t.Fatalf("formatFloat(+Inf) = %q", got)
	}
}
