// Package clickhouse persists bar data and backtest outcomes. Two transports
// are used: the native protocol for queries and prepared batches, and the
// HTTP interface for high-volume JSONEachRow inserts (see ResultSink).
// Prices cross this boundary as decimals; the engine receives floats.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quantsim/services/config"
	"quantsim/services/engine"
)

// Client wraps a native-protocol connection.
type Client struct {
	conn   driver.Conn
	cfg    config.ClickHouseConfig
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS %s.bars (
		symbol LowCardinality(String),
		ts_ms UInt64,
		open Decimal(18, 8),
		high Decimal(18, 8),
		low Decimal(18, 8),
		close Decimal(18, 8),
		volume Decimal(24, 8)
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, ts_ms)`,
	`CREATE TABLE IF NOT EXISTS %s.results (
		job_id String,
		symbol String,
		strategy String,
		created_at_ms UInt64,
		initial_capital Decimal(18, 8),
		final_equity Decimal(18, 8),
		total_return Float64,
		annualized_return Float64,
		sharpe_ratio Float64,
		sortino_ratio Float64,
		max_drawdown Float64,
		win_rate Float64,
		profit_factor Float64,
		total_trades UInt32
	) ENGINE = MergeTree ORDER BY (job_id)`,
	`CREATE TABLE IF NOT EXISTS %s.equity_points (
		job_id String,
		ts_ms UInt64,
		equity Decimal(18, 8)
	) ENGINE = MergeTree ORDER BY (job_id, ts_ms)`,
}

// EnsureSchema creates the tables this package writes to. Idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := c.conn.Exec(ctx, fmt.Sprintf(ddl, c.cfg.Database)); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}

// QueryBars reads [from, to) for one symbol, oldest first, and validates the
// result like any other input series.
func (c *Client) QueryBars(ctx context.Context, symbol string, from, to uint64) (*engine.BarSeries, error) {
	query := fmt.Sprintf(`SELECT ts_ms, open, high, low, close, volume
		FROM %s.bars
		WHERE symbol = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC`, c.cfg.Database)
	rows, err := c.conn.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var (
			ts                             uint64
			open, high, low, closep, volum decimal.Decimal
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closep, &volum); err != nil {
			return nil, fmt.Errorf("clickhouse scan bar: %w", err)
		}
		bars = append(bars, engine.Bar{
			Timestamp: ts,
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     closep.InexactFloat64(),
			Volume:    volum.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse read bars: %w", err)
	}
	series := engine.NewBarSeries(symbol, bars)
	if err := series.Validate(); err != nil {
		return nil, err
	}
	c.logger.Debug("loaded bars from clickhouse",
		zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return series, nil
}

// InsertBars batch-inserts a series into the bars table.
func (c *Client) InsertBars(ctx context.Context, series *engine.BarSeries) error {
	if err := series.Validate(); err != nil {
		return err
	}
	stmt, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s.bars (symbol, ts_ms, open, high, low, close, volume)", c.cfg.Database))
	if err != nil {
		return fmt.Errorf("clickhouse prepare bars: %w", err)
	}
	for _, b := range series.Bars {
		err := stmt.Append(
			series.Symbol,
			b.Timestamp,
			decimal.NewFromFloat(b.Open),
			decimal.NewFromFloat(b.High),
			decimal.NewFromFloat(b.Low),
			decimal.NewFromFloat(b.Close),
			decimal.NewFromFloat(b.Volume),
		)
		if err != nil {
			return fmt.Errorf("clickhouse append bar: %w", err)
		}
	}
	if err := stmt.Send(); err != nil {
		return fmt.Errorf("clickhouse send bars: %w", err)
	}
	c.logger.Info("inserted bars",
		zap.String("symbol", series.Symbol), zap.Int("bars", series.Len()))
	return nil
}

// InsertResult stores the headline row and the full equity curve for one
// finished backtest.
func (c *Client) InsertResult(ctx context.Context, jobID, strategy string, res *engine.BacktestResult, m engine.PerformanceMetrics, createdAtMs uint64) error {
	stmt, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s.results (job_id, symbol, strategy, created_at_ms, initial_capital,
		final_equity, total_return, annualized_return, sharpe_ratio, sortino_ratio,
		max_drawdown, win_rate, profit_factor, total_trades)`, c.cfg.Database))
	if err != nil {
		return fmt.Errorf("clickhouse prepare result: %w", err)
	}
	err = stmt.Append(
		jobID,
		res.Symbol,
		strategy,
		createdAtMs,
		decimal.NewFromFloat(res.InitialCapital),
		decimal.NewFromFloat(res.FinalEquity),
		m.TotalReturn,
		m.AnnualizedReturn,
		m.SharpeRatio,
		m.SortinoRatio,
		m.MaxDrawdown,
		m.WinRate,
		m.ProfitFactor,
		uint32(m.TotalTrades),
	)
	if err != nil {
		return fmt.Errorf("clickhouse append result: %w", err)
	}
	if err := stmt.Send(); err != nil {
		return fmt.Errorf("clickhouse send result: %w", err)
	}

	curve, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s.equity_points (job_id, ts_ms, equity)", c.cfg.Database))
	if err != nil {
		return fmt.Errorf("clickhouse prepare curve: %w", err)
	}
	for _, p := range res.EquityCurve {
		if err := curve.Append(jobID, p.Timestamp, decimal.NewFromFloat(p.Equity)); err != nil {
			return fmt.Errorf("clickhouse append curve point: %w", err)
		}
	}
	if err := curve.Send(); err != nil {
		return fmt.Errorf("clickhouse send curve: %w", err)
	}
	c.logger.Info("stored backtest result",
		zap.String("job_id", jobID),
		zap.String("symbol", res.Symbol),
		zap.Int("equity_points", len(res.EquityCurve)))
	return nil
}
