// Command backtest runs one strategy over a CSV bar file and reports the
// performance KPIs, optionally exporting equity/trade CSVs, Arrow streams
// and ClickHouse rows.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantsim/services/arrowpipeline"
	"quantsim/services/clickhouse"
	"quantsim/services/config"
	"quantsim/services/engine"
	"quantsim/services/marketdata"
	"quantsim/strategies"
)

func main() {
	csvPath := flag.String("csv", "", "Path to OHLCV CSV input (required)")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	strategyName := flag.String("strategy", "ma_cross", "Strategy name (see -list)")
	paramsFlag := flag.String("params", "", "Strategy parameters, e.g. fast_period=5,slow_period=20")
	capital := flag.Float64("capital", 10000, "Initial capital")
	commission := flag.Float64("commission", 0, "Flat commission per fill")
	commissionPct := flag.Float64("commission-pct", 0, "Commission as a fraction of notional")
	slippagePct := flag.Float64("slippage-pct", 0, "Adverse slippage as a fraction of price")
	fraction := flag.Float64("fraction", 1.0, "Sizing fraction of equity per position")
	takeProfit := flag.Float64("tp", 0, "Take-profit fraction (0 disables)")
	stopLoss := flag.Float64("sl", 0, "Stop-loss fraction (0 disables)")
	riskFree := flag.Float64("risk-free", 0, "Annual risk-free rate for ratio metrics")
	reportOut := flag.String("report", "", "Write the KPI report JSON here instead of stdout")
	equityOut := flag.String("equity-out", "", "Write the equity curve CSV here")
	tradesOut := flag.String("trades-out", "", "Write the trade list CSV here")
	arrowOut := flag.String("arrow-out", "", "Write the equity curve as an Arrow IPC stream here")
	arrowBarsOut := flag.String("arrow-bars-out", "", "Write the loaded bars as an Arrow IPC stream here")
	listStrategies := flag.Bool("list", false, "List built-in strategies and exit")
	chEnabled := flag.Bool("ch", false, "Enable ClickHouse: store the loaded bars and the result")
	chAddr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	chDatabase := flag.String("ch-db", "quantsim", "ClickHouse database")
	chUser := flag.String("ch-user", "default", "ClickHouse user")
	chPass := flag.String("ch-pass", "", "ClickHouse password")
	flag.Parse()

	if *listStrategies {
		for _, name := range strategies.Names() {
			fmt.Println(name)
		}
		return
	}
	if *csvPath == "" {
		fail("missing -csv input path")
	}

	params, err := parseParams(*paramsFlag)
	if err != nil {
		fail("bad -params: %v", err)
	}
	factory, err := strategies.Lookup(*strategyName)
	if err != nil {
		fail("%v", err)
	}

	loader := marketdata.NewLoader(nil)
	series, err := loader.LoadCSV(*csvPath, *symbol)
	if err != nil {
		fail("load csv: %v", err)
	}
	cadence := marketdata.DetectCadence(series.Bars)
	fmt.Printf("Loaded %d bars for %s (cadence %s, %d gaps)\n",
		series.Len(), series.Symbol, time.Duration(cadence)*time.Millisecond, marketdata.CountGaps(series.Bars, cadence))

	strat, err := factory(params)
	if err != nil {
		fail("%v", err)
	}
	signals, err := strat.Signals(series)
	if err != nil {
		fail("signals: %v", err)
	}

	simCfg := engine.SimConfig{
		InitialCapital:     *capital,
		CommissionPerTrade: *commission,
		CommissionPct:      *commissionPct,
		SlippagePct:        *slippagePct,
		SizingFraction:     *fraction,
		TakeProfitPct:      *takeProfit,
		StopLossPct:        *stopLoss,
	}
	result, err := engine.Simulate(series, signals, simCfg)
	if err != nil {
		fail("simulate: %v", err)
	}
	m := engine.ComputeMetrics(result, *riskFree)
	result.Metrics = &m

	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, map[string]any{
		"strategy": *strategyName,
		"params":   params,
		"config":   simCfg,
	}, series, 0)

	fmt.Printf("=== %s Backtest Summary ===\n", strat.Name())
	fmt.Printf("Trades: %d, WinRate: %.2f%%, ProfitFactor: %.2f\n",
		m.TotalTrades, m.WinRate*100, m.ProfitFactor)
	fmt.Printf("Return: %.2f%%, Sharpe: %.2f, MaxDrawdown: %.2f%%\n",
		m.TotalReturn*100, m.SharpeRatio, m.MaxDrawdown*100)
	fmt.Printf("Equity: %.2f -> %.2f\n", result.InitialCapital, result.FinalEquity)

	report := kpiReport{
		Symbol:         series.Symbol,
		Strategy:       strat.Name(),
		Params:         params,
		Bars:           series.Len(),
		InitialCapital: result.InitialCapital,
		FinalEquity:    result.FinalEquity,
		Metrics:        m,
		Manifest:       manifest,
	}
	if *reportOut != "" {
		if err := writeReport(*reportOut, report); err != nil {
			fail("write report: %v", err)
		}
		fmt.Printf("Report written to %s\n", *reportOut)
	} else {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fail("encode report: %v", err)
		}
		fmt.Println(string(data))
	}

	if *equityOut != "" {
		if err := writeEquityCSV(*equityOut, result.EquityCurve); err != nil {
			fail("write equity csv: %v", err)
		}
	}
	if *tradesOut != "" {
		if err := writeTradesCSV(*tradesOut, result.Trades); err != nil {
			fail("write trades csv: %v", err)
		}
	}
	if *arrowOut != "" || *arrowBarsOut != "" {
		pipeline := arrowpipeline.NewPipeline(nil)
		if *arrowOut != "" {
			data, err := pipeline.EncodeEquity(result.EquityCurve)
			if err != nil {
				fail("encode equity arrow: %v", err)
			}
			if err := os.WriteFile(*arrowOut, data, 0o644); err != nil {
				fail("write equity arrow: %v", err)
			}
		}
		if *arrowBarsOut != "" {
			data, err := pipeline.EncodeBars(series)
			if err != nil {
				fail("encode bars arrow: %v", err)
			}
			if err := os.WriteFile(*arrowBarsOut, data, 0o644); err != nil {
				fail("write bars arrow: %v", err)
			}
		}
	}

	if *chEnabled {
		chCfg := config.ClickHouseConfig{
			Enabled:  true,
			Addr:     *chAddr,
			Database: *chDatabase,
			Username: *chUser,
			Password: *chPass,
		}
		if err := storeInClickHouse(chCfg, jobID, *strategyName, series, result, m); err != nil {
			fail("clickhouse: %v", err)
		}
		fmt.Printf("Stored bars and result in ClickHouse %s/%s (job %s)\n", *chAddr, *chDatabase, jobID)
	}
}

type kpiReport struct {
	Symbol         string                    `json:"symbol"`
	Strategy       string                    `json:"strategy"`
	Params         strategies.Params         `json:"params,omitempty"`
	Bars           int                       `json:"bars"`
	InitialCapital float64                   `json:"initial_capital"`
	FinalEquity    float64                   `json:"final_equity"`
	Metrics        engine.PerformanceMetrics `json:"metrics"`
	Manifest       *engine.RunManifest       `json:"manifest"`
}

func storeInClickHouse(cfg config.ClickHouseConfig, jobID, strategy string, series *engine.BarSeries, result *engine.BacktestResult, m engine.PerformanceMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := clickhouse.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := client.InsertBars(ctx, series); err != nil {
		return err
	}
	return client.InsertResult(ctx, jobID, strategy, result, m, uint64(time.Now().UnixMilli()))
}

// parseParams reads "name=value,name=value" into strategy parameters.
func parseParams(s string) (strategies.Params, error) {
	params := strategies.Params{}
	if strings.TrimSpace(s) == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", kv[0], err)
		}
		params[strings.TrimSpace(kv[0])] = v
	}
	return params, nil
}

func writeReport(path string, report kpiReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeEquityCSV(path string, curve engine.EquityCurve) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "equity"}); err != nil {
		return err
	}
	for _, pt := range curve {
		row := []string{strconv.FormatUint(pt.Timestamp, 10), formatFloat(pt.Equity)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeTradesCSV(path string, trades []engine.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{
		"symbol", "direction", "entry_timestamp", "entry_price", "exit_timestamp",
		"exit_price", "size", "gross_pnl", "net_pnl", "return_pct", "exit_reason", "bars",
	}
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, tr := range trades {
		row := []string{
			tr.Symbol,
			tr.Direction.String(),
			strconv.FormatUint(tr.EntryTimestamp, 10),
			formatFloat(tr.EntryPrice),
			strconv.FormatUint(tr.ExitTimestamp, 10),
			formatFloat(tr.ExitPrice),
			formatFloat(tr.Size),
			formatFloat(tr.GrossPnL),
			formatFloat(tr.NetPnL),
			formatFloat(tr.ReturnPct),
			tr.ExitReason,
			strconv.Itoa(tr.Bars),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
