package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quantsim/proto"
	"quantsim/services/config"
	"quantsim/services/engine"
)

func testService(t *testing.T, workers int) (*Service, *gin.Engine, context.CancelFunc) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Engine.Workers = workers
	cfg.Engine.QueueDepth = 4
	svc, err := NewService(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if workers > 0 {
		var wg sync.WaitGroup
		svc.startWorkers(ctx, &wg)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	svc.routes(router)
	return svc, router, cancel
}

func requestBars(n int) []engine.Bar {
	bars := make([]engine.Bar, n)
	price := 100.0
	for i := range bars {
		next := price + float64(i%4) - 1.2
		bars[i] = engine.Bar{
			Timestamp: uint64(i+1) * 86400000,
			Open:      price,
			High:      maxF(price, next) + 0.5,
			Low:       minF(price, next) - 0.5,
			Close:     next,
			Volume:    1000,
		}
		price = next
	}
	return bars
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitForJob(t *testing.T, router *gin.Engine, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := getPath(router, "/api/v1/jobs/"+jobID)
		if w.Code != http.StatusOK {
			t.Fatalf("job status returned %d: %s", w.Code, w.Body.String())
		}
		var job map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		switch job["status"] {
		case string(JobDone), string(JobFailed):
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestBacktestJobLifecycle(t *testing.T) {
	_, router, cancel := testService(t, 1)
	defer cancel()

	w := postJSON(router, "/api/v1/backtest", proto.BacktestRequest{
		Symbol:   "BTCUSDT",
		Bars:     requestBars(40),
		Strategy: "buy_hold",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accept body: %v", err)
	}
	if accepted.JobID == "" || accepted.Status != string(JobQueued) {
		t.Fatalf("unexpected accept body: %s", w.Body.String())
	}

	job := waitForJob(t, router, accepted.JobID)
	if job["status"] != string(JobDone) {
		t.Fatalf("job ended %v: %v", job["status"], job["error"])
	}
	result, ok := job["result"].(map[string]any)
	if !ok {
		t.Fatalf("job result missing: %v", job)
	}
	if result["symbol"] != "BTCUSDT" {
		t.Fatalf("result symbol = %v", result["symbol"])
	}
	if _, ok := result["final_equity"].(float64); !ok {
		t.Fatalf("result has no final_equity: %v", result)
	}
	manifest, ok := job["manifest"].(map[string]any)
	if !ok || manifest["job_id"] != accepted.JobID {
		t.Fatalf("manifest missing or mismatched: %v", job["manifest"])
	}

	arrow := getPath(router, "/api/v1/jobs/"+accepted.JobID+"/equity.arrow")
	if arrow.Code != http.StatusOK {
		t.Fatalf("equity export returned %d: %s", arrow.Code, arrow.Body.String())
	}
	if ct := arrow.Header().Get("Content-Type"); ct != "application/vnd.apache.arrow.stream" {
		t.Fatalf("equity export content type = %q", ct)
	}
	if arrow.Body.Len() == 0 {
		t.Fatal("equity export body is empty")
	}
}

func TestSubmitRejectsUnknownStrategy(t *testing.T) {
	_, router, cancel := testService(t, 1)
	defer cancel()

	w := postJSON(router, "/api/v1/backtest", proto.BacktestRequest{
		Symbol:   "BTCUSDT",
		Bars:     requestBars(10),
		Strategy: "time_machine",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("submit returned %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown strategy") {
		t.Fatalf("error body = %s", w.Body.String())
	}
}

func TestSubmitRejectsMissingData(t *testing.T) {
	_, router, cancel := testService(t, 1)
	defer cancel()

	w := postJSON(router, "/api/v1/backtest", proto.BacktestRequest{
		Symbol:   "BTCUSDT",
		Strategy: "buy_hold",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("submit returned %d, want 400", w.Code)
	}
}

func TestQueueSaturationAnswers429(t *testing.T) {
	// No workers: everything submitted stays in the queue.
	svc, router, cancel := testService(t, 0)
	defer cancel()
	svc.queue = make(chan task, 1)

	req := proto.BacktestRequest{Symbol: "BTCUSDT", Bars: requestBars(10), Strategy: "buy_hold"}
	if w := postJSON(router, "/api/v1/backtest", req); w.Code != http.StatusAccepted {
		t.Fatalf("first submit returned %d", w.Code)
	}
	w := postJSON(router, "/api/v1/backtest", req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit returned %d, want 429", w.Code)
	}
}

func TestOptimizeJobProducesRanking(t *testing.T) {
	_, router, cancel := testService(t, 2)
	defer cancel()

	w := postJSON(router, "/api/v1/optimize", proto.OptimizeRequest{
		Symbol:   "BTCUSDT",
		Bars:     requestBars(60),
		Strategy: "rsi_reversion",
		Grid:     map[string][]float64{"period": {5, 10}},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accept body: %v", err)
	}
	job := waitForJob(t, router, accepted.JobID)
	if job["status"] != string(JobDone) {
		t.Fatalf("job ended %v: %v", job["status"], job["error"])
	}
	result := job["result"].(map[string]any)
	evals, ok := result["evaluations"].([]any)
	if !ok || len(evals) != 2 {
		t.Fatalf("evaluations = %v", result["evaluations"])
	}
}

func TestJobStatusUnknownJob(t *testing.T) {
	_, router, cancel := testService(t, 0)
	defer cancel()

	if w := getPath(router, "/api/v1/jobs/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("status returned %d, want 404", w.Code)
	}
	if w := getPath(router, "/api/v1/jobs/nope/equity.arrow"); w.Code != http.StatusNotFound {
		t.Fatalf("equity returned %d, want 404", w.Code)
	}
}

func TestStrategiesAndHealthEndpoints(t *testing.T) {
	_, router, cancel := testService(t, 0)
	defer cancel()

	w := getPath(router, "/api/v1/strategies")
	if w.Code != http.StatusOK {
		t.Fatalf("strategies returned %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ma_cross") {
		t.Fatalf("strategies body = %s", w.Body.String())
	}

	w = getPath(router, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Fatalf("health body = %s", w.Body.String())
	}
}

func TestExecuteBacktestGRPCPath(t *testing.T) {
	svc, _, cancel := testService(t, 0)
	defer cancel()

	resp, err := svc.ExecuteBacktest(context.Background(), &proto.BacktestRequest{
		Symbol:   "ETHUSDT",
		Bars:     requestBars(30),
		Strategy: "ma_cross",
		Params:   map[string]float64{"fast_period": 3, "slow_period": 8},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.JobID == "" || resp.Result == nil || resp.Result.Metrics == nil {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if resp.Result.Symbol != "ETHUSDT" {
		t.Fatalf("symbol = %q", resp.Result.Symbol)
	}
	if resp.Manifest == nil || resp.Manifest.JobID != resp.JobID {
		t.Fatalf("manifest mismatch: %+v", resp.Manifest)
	}

	_, err = svc.ExecuteBacktest(context.Background(), &proto.BacktestRequest{
		Symbol:   "ETHUSDT",
		Bars:     requestBars(30),
		Strategy: "ma_cross",
		Params:   map[string]float64{"fast_period": 9, "slow_period": 3},
	})
	if !engine.IsConfigError(err) {
		t.Fatalf("inverted periods error = %v, want config error", err)
	}
}

