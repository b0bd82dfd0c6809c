package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantsim/proto"
	"quantsim/services/arrowpipeline"
	"quantsim/services/clickhouse"
	"quantsim/services/config"
	"quantsim/services/engine"
	"quantsim/services/montecarlo"
	"quantsim/services/optimize"
	"quantsim/services/portfolio"
	"quantsim/services/walkforward"
	"quantsim/strategies"
)

const defaultSimulations = 1000

// Service hosts the analysis API on both transports. HTTP POSTs enqueue
// jobs on the worker pool; the gRPC unary call runs synchronously.
type Service struct {
	proto.UnimplementedBacktestServiceServer

	cfg      *config.Config
	logger   *zap.Logger
	store    *jobStore
	queue    chan task
	pipeline *arrowpipeline.Pipeline
	ch       *clickhouse.Client     // nil unless clickhouse.enabled
	sink     *clickhouse.ResultSink // nil unless clickhouse.enabled
}

func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    newJobStore(),
		queue:    make(chan task, cfg.Engine.QueueDepth),
		pipeline: arrowpipeline.NewPipeline(logger),
	}
	if cfg.ClickHouse.Enabled {
		ch, err := clickhouse.NewClient(cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		s.ch = ch
		s.sink = clickhouse.NewResultSink(cfg.ClickHouse, logger)
	}
	return s, nil
}

func (s *Service) routes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktest)
		api.POST("/optimize", s.handleOptimize)
		api.POST("/walkforward", s.handleWalkForward)
		api.POST("/montecarlo", s.handleMonteCarlo)
		api.POST("/portfolio", s.handlePortfolio)
		api.POST("/compare", s.handleCompare)
		api.GET("/jobs/:job_id", s.handleJobStatus)
		api.GET("/jobs/:job_id/equity.arrow", s.handleJobEquity)
		api.GET("/strategies", s.handleStrategies)
		api.GET("/health", s.handleHealth)
	}
}

// resolveSeries picks the data source for a request: inline bars win,
// otherwise the range reference is read from ClickHouse.
func (s *Service) resolveSeries(ctx context.Context, symbol string, bars []engine.Bar, ref *proto.BarRangeRef) (*engine.BarSeries, error) {
	if len(bars) > 0 {
		series := engine.NewBarSeries(symbol, bars)
		if err := series.Validate(); err != nil {
			return nil, err
		}
		return series, nil
	}
	if ref == nil {
		return nil, engine.NewDataError("request carries neither bars nor a range reference")
	}
	if s.ch == nil {
		return nil, engine.NewConfigError("range references require clickhouse to be enabled")
	}
	sym := ref.Symbol
	if sym == "" {
		sym = symbol
	}
	return s.ch.QueryBars(ctx, sym, ref.FromMs, ref.ToMs)
}

func (s *Service) prepare(ctx context.Context, symbol string, bars []engine.Bar, ref *proto.BarRangeRef, strategy string) (*engine.BarSeries, strategies.Factory, error) {
	series, err := s.resolveSeries(ctx, symbol, bars, ref)
	if err != nil {
		return nil, nil, err
	}
	factory, err := strategies.Lookup(strategy)
	if err != nil {
		return nil, nil, err
	}
	return series, factory, nil
}

func (s *Service) simConfig(req *engine.SimConfig) engine.SimConfig {
	if req != nil {
		return *req
	}
	return engine.SimConfig{InitialCapital: s.cfg.Engine.DefaultCapital}
}

func (s *Service) riskFree(v float64) float64 {
	if v != 0 {
		return v
	}
	return s.cfg.Engine.RiskFreeRate
}

func (s *Service) analysisOptions(sim engine.SimConfig, riskFree float64) optimize.Options {
	return optimize.Options{
		Sim:          sim,
		RiskFreeRate: riskFree,
		Workers:      s.cfg.Engine.Workers,
		Logger:       s.logger,
	}
}

func httpStatus(err error) int {
	if engine.IsConfigError(err) || engine.IsDataError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

// enqueue registers a job and queues its closure, answering 202 Accepted
// or 429 when the queue is saturated.
func (s *Service) enqueue(c *gin.Context, kind string, manifest *engine.RunManifest, run func(ctx context.Context) (any, error)) {
	job := &Job{
		ID:          manifest.JobID,
		Kind:        kind,
		Status:      JobQueued,
		SubmittedAt: time.Now(),
		Manifest:    manifest,
	}
	s.store.add(job)
	if !s.submit(task{id: job.ID, run: run}) {
		s.store.remove(job.ID)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "job queue is full, retry later"})
		return
	}
	s.logger.Info("job queued", zap.String("job_id", job.ID), zap.String("kind", kind))
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": JobQueued})
}

// runBacktest is the single execution path shared by the HTTP job and the
// gRPC unary call. Completed results are forwarded to the ClickHouse sink
// when one is configured; sink trouble is logged, never fatal to the run.
func (s *Service) runBacktest(ctx context.Context, jobID, strategyName string, series *engine.BarSeries, factory strategies.Factory, params strategies.Params, cfg engine.SimConfig, riskFree float64) (*engine.BacktestResult, error) {
	strat, err := factory(params)
	if err != nil {
		return nil, err
	}
	signals, err := strat.Signals(series)
	if err != nil {
		return nil, err
	}
	result, err := engine.Simulate(series, signals, cfg)
	if err != nil {
		return nil, err
	}
	m := engine.ComputeMetrics(result, riskFree)
	result.Metrics = &m
	if s.sink != nil {
		row := clickhouse.RowFromResult(jobID, strategyName, result, m)
		if err := s.sink.Add(ctx, row); err != nil {
			s.logger.Warn("result sink rejected row", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return result, nil
}

// ExecuteBacktest serves the gRPC surface synchronously.
func (s *Service) ExecuteBacktest(ctx context.Context, req *proto.BacktestRequest) (*proto.BacktestResponse, error) {
	start := time.Now()
	jobID := uuid.New().String()
	s.logger.Info("executing backtest",
		zap.String("job_id", jobID),
		zap.String("symbol", req.Symbol),
		zap.String("strategy", req.Strategy))

	series, factory, err := s.prepare(ctx, req.Symbol, req.Bars, req.Range, req.Strategy)
	if err != nil {
		return nil, err
	}
	result, err := s.runBacktest(ctx, jobID, req.Strategy, series, factory, req.Params, s.simConfig(req.Config), s.riskFree(req.RiskFreeRate))
	if err != nil {
		s.logger.Error("backtest failed", zap.String("job_id", jobID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("backtest done",
		zap.String("job_id", jobID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("trades", result.Metrics.TotalTrades))
	return &proto.BacktestResponse{
		JobID:       jobID,
		Result:      result,
		Manifest:    engine.NewRunManifest(jobID, req, series, 0),
		ExecutionMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) handleBacktest(c *gin.Context) {
	var req proto.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, factory, err := s.prepare(c.Request.Context(), req.Symbol, req.Bars, req.Range, req.Strategy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cfg := s.simConfig(req.Config)
	riskFree := s.riskFree(req.RiskFreeRate)
	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, &req, series, 0)
	s.enqueue(c, "backtest", manifest, func(ctx context.Context) (any, error) {
		result, err := s.runBacktest(ctx, jobID, req.Strategy, series, factory, req.Params, cfg, riskFree)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func (s *Service) handleOptimize(c *gin.Context) {
	var req proto.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, factory, err := s.prepare(c.Request.Context(), req.Symbol, req.Bars, req.Range, req.Strategy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	opts := s.analysisOptions(s.simConfig(req.Config), s.riskFree(req.RiskFreeRate))
	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, &req, series, 0)
	s.enqueue(c, "optimize", manifest, func(ctx context.Context) (any, error) {
		res, err := optimize.GridSearch(ctx, series, factory, optimize.Grid(req.Grid), req.RankMetric, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) handleWalkForward(c *gin.Context) {
	var req proto.WalkForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, factory, err := s.prepare(c.Request.Context(), req.Symbol, req.Bars, req.Range, req.Strategy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	base := s.analysisOptions(s.simConfig(req.Config), s.riskFree(req.RiskFreeRate))
	opts := walkforward.Options{
		Sim:          base.Sim,
		RiskFreeRate: base.RiskFreeRate,
		Workers:      base.Workers,
		Logger:       base.Logger,
	}
	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, &req, series, 0)
	s.enqueue(c, "walkforward", manifest, func(ctx context.Context) (any, error) {
		res, err := walkforward.Analyze(ctx, series, factory, optimize.Grid(req.Grid), req.WindowSize, req.StepSize, req.RankMetric, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) handleMonteCarlo(c *gin.Context) {
	var req proto.MonteCarloRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, factory, err := s.prepare(c.Request.Context(), req.Symbol, req.Bars, req.Range, req.Strategy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	cfg := s.simConfig(req.Config)
	riskFree := s.riskFree(req.RiskFreeRate)
	sims := req.Simulations
	if sims == 0 {
		sims = defaultSimulations
	}
	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, &req, series, req.Seed)
	s.enqueue(c, "montecarlo", manifest, func(ctx context.Context) (any, error) {
		result, err := s.runBacktest(ctx, jobID, req.Strategy, series, factory, req.Params, cfg, riskFree)
		if err != nil {
			return nil, err
		}
		res, err := montecarlo.Run(ctx, result, sims, req.Seed, montecarlo.Options{
			Workers: s.cfg.Engine.Workers,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) handlePortfolio(c *gin.Context) {
	var req proto.PortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Series) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio request needs at least one series"})
		return
	}
	seriesBySymbol := make(map[string]*engine.BarSeries, len(req.Series))
	for _, p := range req.Series {
		series, err := s.resolveSeries(c.Request.Context(), p.Symbol, p.Bars, p.Range)
		if err != nil {
			abortWithError(c, err)
			return
		}
		seriesBySymbol[series.Symbol] = series
	}
	factory, err := strategies.Lookup(req.Strategy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	base := s.analysisOptions(s.simConfig(req.Config), s.riskFree(req.RiskFreeRate))
	opts := portfolio.Options{
		Sim:          base.Sim,
		RiskFreeRate: base.RiskFreeRate,
		Workers:      base.Workers,
		Logger:       base.Logger,
	}
	policy := portfolio.Policy{Weights: req.Weights, RebalanceEvery: req.RebalanceEvery}
	jobID := uuid.New().String()
	manifest := &engine.RunManifest{
		JobID:         jobID,
		EngineVersion: engine.EngineVersion,
		ConfigHash:    engine.HashJSON(&req),
		DataChecksum:  engine.HashJSON(seriesBySymbol),
		CreatedAt:     uint64(time.Now().UnixMilli()),
	}
	s.enqueue(c, "portfolio", manifest, func(ctx context.Context) (any, error) {
		res, err := portfolio.Run(ctx, seriesBySymbol, factory, req.Params, policy, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) handleCompare(c *gin.Context) {
	var req proto.CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	series, err := s.resolveSeries(c.Request.Context(), req.Symbol, req.Bars, req.Range)
	if err != nil {
		abortWithError(c, err)
		return
	}
	entries := make([]optimize.Entry, len(req.Entries))
	for i, e := range req.Entries {
		factory, err := strategies.Lookup(e.Strategy)
		if err != nil {
			abortWithError(c, err)
			return
		}
		entries[i] = optimize.Entry{Name: e.Strategy, Factory: factory, Params: e.Params}
	}
	opts := s.analysisOptions(s.simConfig(req.Config), s.riskFree(req.RiskFreeRate))
	jobID := uuid.New().String()
	manifest := engine.NewRunManifest(jobID, &req, series, 0)
	s.enqueue(c, "compare", manifest, func(ctx context.Context) (any, error) {
		res, err := optimize.Compare(ctx, series, entries, req.RankMetric, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) handleJobStatus(c *gin.Context) {
	job, ok := s.store.snapshot(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Service) handleJobEquity(c *gin.Context) {
	job, ok := s.store.snapshot(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if job.Status != JobDone {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not done", "status": job.Status})
		return
	}
	curve, ok := equityCurveOf(job.Result)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job result has no equity curve"})
		return
	}
	data, err := s.pipeline.EncodeEquity(curve)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, arrowpipeline.ContentType, data)
}

// equityCurveOf digs the exportable curve out of each result shape. Monte
// Carlo and comparison results have no single curve to export.
func equityCurveOf(result any) (engine.EquityCurve, bool) {
	switch r := result.(type) {
	case *engine.BacktestResult:
		return r.EquityCurve, true
	case *optimize.Result:
		if r.Best != nil {
			return r.Best.EquityCurve, true
		}
	case *walkforward.Result:
		if r.OOS != nil {
			return r.OOS.EquityCurve, true
		}
	case *portfolio.Result:
		if r.Combined != nil {
			return r.Combined.EquityCurve, true
		}
	}
	return nil, false
}

func (s *Service) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategies.Names()})
}

func (s *Service) handleHealth(c *gin.Context) {
	out := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   engine.EngineVersion,
	}
	if s.ch != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.ch.Ping(ctx); err != nil {
			out["status"] = "degraded"
			out["clickhouse"] = err.Error()
		} else {
			out["clickhouse"] = "ok"
		}
	}
	c.JSON(http.StatusOK, out)
}
