package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quantsim/services/config"
	"quantsim/services/engine"
)

// MetricRow is one headline result in JSONEachRow form. Monetary fields are
// decimals and serialize as quoted strings, which ClickHouse parses into
// Decimal columns.
type MetricRow struct {
	JobID            string          `json:"job_id"`
	Symbol           string          `json:"symbol"`
	Strategy         string          `json:"strategy"`
	CreatedAtMs      uint64          `json:"created_at_ms"`
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	FinalEquity      decimal.Decimal `json:"final_equity"`
	TotalReturn      float64         `json:"total_return"`
	AnnualizedReturn float64         `json:"annualized_return"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	SortinoRatio     float64         `json:"sortino_ratio"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	WinRate          float64         `json:"win_rate"`
	ProfitFactor     float64         `json:"profit_factor"`
	TotalTrades      uint32          `json:"total_trades"`
}

// RowFromResult flattens a finished backtest into its sink row.
func RowFromResult(jobID, strategy string, res *engine.BacktestResult, m engine.PerformanceMetrics) MetricRow {
	return MetricRow{
		JobID:            jobID,
		Symbol:           res.Symbol,
		Strategy:         strategy,
		CreatedAtMs:      uint64(time.Now().UnixMilli()),
		InitialCapital:   decimal.NewFromFloat(res.InitialCapital),
		FinalEquity:      decimal.NewFromFloat(res.FinalEquity),
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		SharpeRatio:      m.SharpeRatio,
		SortinoRatio:     m.SortinoRatio,
		MaxDrawdown:      m.MaxDrawdown,
		WinRate:          m.WinRate,
		ProfitFactor:     m.ProfitFactor,
		TotalTrades:      uint32(m.TotalTrades),
	}
}

// ResultSink buffers result rows and flushes them to the ClickHouse HTTP
// interface as gzip-compressed JSONEachRow inserts. Transient failures are
// retried with exponential backoff; 4xx responses are permanent.
type ResultSink struct {
	baseURL    string
	database   string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	buffer    []MetricRow
	batchSize int

	retryInterval time.Duration
	maxRetries    uint64
}

func NewResultSink(cfg config.ClickHouseConfig, logger *zap.Logger) *ResultSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ResultSink{
		baseURL:       cfg.HTTPURL,
		database:      cfg.Database,
		username:      cfg.Username,
		password:      cfg.Password,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		buffer:        make([]MetricRow, 0, batchSize),
		batchSize:     batchSize,
		retryInterval: 500 * time.Millisecond,
		maxRetries:    5,
	}
}

// Add buffers one row, flushing when the batch is full.
func (s *ResultSink) Add(ctx context.Context, row MetricRow) error {
	s.buffer = append(s.buffer, row)
	if len(s.buffer) >= s.batchSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends the buffered rows. The buffer is cleared only after ClickHouse
// acknowledges the insert.
func (s *ResultSink) Flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	payload, err := s.encode()
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s.results FORMAT JSONEachRow", s.database)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	target := fmt.Sprintf("%s/?query=%s&%s", s.baseURL, url.QueryEscape(query), settings)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set("X-ClickHouse-Settings", "max_insert_block_size=1000000,input_format_allow_errors_num=0,insert_deduplicate=1")
		req.SetBasicAuth(s.username, s.password)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("clickhouse insert %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.MaxElapsedTime = 0 // retry count is the only cap
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), s.maxRetries)); err != nil {
		s.logger.Error("result sink flush failed",
			zap.Int("rows", len(s.buffer)), zap.Int("attempts", attempt), zap.Error(err))
		return err
	}
	s.logger.Debug("flushed result rows",
		zap.Int("rows", len(s.buffer)), zap.Int("attempts", attempt))
	s.buffer = s.buffer[:0]
	return nil
}

// encode renders the buffer as gzip-compressed JSONEachRow: one JSON object
// per line.
func (s *ResultSink) encode() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, row := range s.buffer {
		line, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("marshal result row: %w", err)
		}
		if _, err := gz.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("gzip result row: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Close flushes whatever is left.
func (s *ResultSink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
