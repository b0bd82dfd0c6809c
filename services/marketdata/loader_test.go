package marketdata

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quantsim/services/engine"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp csv: %v", err)
	}
	return path
}

func TestLoadCSVSortsDeduplicatesAndSkipsNoise(t *testing.T) {
	csv := "﻿timestamp_ms,open,high,low,close,volume\n" +
		"3000,102,103,101,102,7\n" +
		"1000,100,101,99,100,5\n" +
		"not,a,bar,row,at,all\n" +
		"2000,101,102,100,101,6\n" +
		"2000,101,105,100,104,9\n" // duplicate timestamp, keep this one

	series, err := NewLoader(nil).LoadCSV(writeTemp(t, csv), "BTCUSDT")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.Symbol != "BTCUSDT" {
		t.Fatalf("symbol %q", series.Symbol)
	}
	if series.Len() != 3 {
		t.Fatalf("expected 3 bars after dedupe, got %d", series.Len())
	}
	for i, want := range []uint64{1000, 2000, 3000} {
		if series.Bars[i].Timestamp != want {
			t.Fatalf("bar %d: timestamp %d, want %d", i, series.Bars[i].Timestamp, want)
		}
	}
	if series.Bars[1].Close != 104 {
		t.Fatalf("duplicate timestamp should keep the last row, close %v", series.Bars[1].Close)
	}
	if err := series.Validate(); err != nil {
		t.Fatalf("loaded series must be valid: %v", err)
	}
}

func TestLoadCSVWithoutHeaderOrVolume(t *testing.T) {
	csv := "1000,100,101,99,100\n2000,100,102,100,102\n"

	series, err := NewLoader(nil).LoadCSV(writeTemp(t, csv), "X")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if series.Bars[0].Volume != 0 {
		t.Fatalf("missing volume should parse as zero, got %v", series.Bars[0].Volume)
	}
}

func TestLoadCSVRejectsInconsistentOHLC(t *testing.T) {
	// High below the body: parses fine, fails validation.
	csv := "1000,100,99,98,100,5\n"

	_, err := NewLoader(nil).LoadCSV(writeTemp(t, csv), "BAD")
	if !engine.IsDataError(err) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestLoadCSVEmptyAndMissingFiles(t *testing.T) {
	if _, err := NewLoader(nil).LoadCSV(writeTemp(t, ""), "E"); !engine.IsDataError(err) {
		t.Fatalf("empty file: got %v", err)
	}
	if _, err := NewLoader(nil).LoadCSV(filepath.Join(t.TempDir(), "absent.csv"), "E"); !engine.IsDataError(err) {
		t.Fatalf("missing file: got %v", err)
	}
}

func TestReadQuotedFields(t *testing.T) {
	csv := `"1000","100","101","99","100","5"` + "\n" + `"2000","100","102","100","102","6"` + "\n"

	series, err := NewLoader(nil).Read(strings.NewReader(csv), "Q")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
}

func utf16LE(s string) []byte {
	b := []byte{0xFF, 0xFE}
	for _, r := range s {
		b = append(b, byte(r), byte(r>>8))
	}
	return b
}

func TestReadUTF16Input(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"1000,100,101,99,100,5\n" +
		"2000,100,102,100,102,6\n"

	series, err := NewLoader(nil).Read(bytes.NewReader(utf16LE(csv)), "U16")
	if err != nil {
		t.Fatalf("read utf-16: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if series.Bars[1].Close != 102 {
		t.Fatalf("close %v", series.Bars[1].Close)
	}
}

func TestDetectCadenceAndCountGaps(t *testing.T) {
	bars := []engine.Bar{
		{Timestamp: 60000, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 120000, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 180000, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 360000, Open: 1, High: 1, Low: 1, Close: 1}, // 3-minute hole
		{Timestamp: 420000, Open: 1, High: 1, Low: 1, Close: 1},
	}
	cadence := DetectCadence(bars)
	if cadence != 60000 {
		t.Fatalf("cadence %d, want 60000", cadence)
	}
	if gaps := CountGaps(bars, cadence); gaps != 1 {
		t.Fatalf("gaps %d, want 1", gaps)
	}
	if DetectCadence(bars[:1]) != 0 {
		t.Fatal("single bar has no cadence")
	}
	if CountGaps(bars, 0) != 0 {
		t.Fatal("zero cadence must report zero gaps")
	}
}
