package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quantsim/services/engine"
	"quantsim/services/marketdata"
)

func TestParseCadence(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"15m", 900_000},
		{"1h", 3_600_000},
		{"90s", 90_000},
		{"15", 900_000},
		{" 5 ", 300_000},
	}
	for _, tc := range cases {
		got, err := parseCadence(tc.in)
		if err != nil {
			t.Fatalf("parseCadence(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseCadence(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "fast", "-5", "0", "-1h"} {
		if _, err := parseCadence(bad); err == nil {
			t.Fatalf("parseCadence(%q) should fail", bad)
		}
	}
}

func TestWriteBarsCSVRoundTripsThroughLoader(t *testing.T) {
	bars := []engine.Bar{
		{Timestamp: 900_000, Open: 100, High: 105, Low: 96, Close: 97, Volume: 60},
		{Timestamp: 1_800_000, Open: 97, High: 103, Low: 95, Close: 102, Volume: 90},
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := writeBarsCSV(path, bars); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "timestamp,open,high,low,close,volume\n") {
		t.Fatalf("missing header: %q", string(data))
	}

	series, err := marketdata.NewLoader(nil).LoadCSV(path, "RT")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if series.Bars[0] != bars[0] || series.Bars[1] != bars[1] {
		t.Fatalf("round trip changed bars: %+v", series.Bars)
	}
}
