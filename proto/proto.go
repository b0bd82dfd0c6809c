// Package proto defines the wire types for the backtest service. The
// service speaks JSON on both surfaces: gin binds these structs directly,
// and the gRPC side registers a JSON codec so the same types travel over
// the hand-written service descriptor below.
package proto

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"quantsim/services/engine"
	"quantsim/strategies"
)

// BarRangeRef points a request at stored bars instead of an inline payload.
type BarRangeRef struct {
	Symbol string `json:"symbol"`
	FromMs uint64 `json:"from_ms"`
	ToMs   uint64 `json:"to_ms"`
}

// SeriesPayload carries one symbol's bars, inline or by range reference.
type SeriesPayload struct {
	Symbol string       `json:"symbol"`
	Bars   []engine.Bar `json:"bars,omitempty"`
	Range  *BarRangeRef `json:"range,omitempty"`
}

type BacktestRequest struct {
	Symbol       string            `json:"symbol"`
	Bars         []engine.Bar      `json:"bars,omitempty"`
	Range        *BarRangeRef      `json:"range,omitempty"`
	Strategy     string            `json:"strategy"`
	Params       strategies.Params `json:"params,omitempty"`
	Config       *engine.SimConfig `json:"config,omitempty"`
	RiskFreeRate float64           `json:"risk_free_rate,omitempty"`
}

type BacktestResponse struct {
	JobID       string                 `json:"job_id"`
	Result      *engine.BacktestResult `json:"result"`
	Manifest    *engine.RunManifest    `json:"manifest,omitempty"`
	ExecutionMs int64                  `json:"execution_ms"`
}

type OptimizeRequest struct {
	Symbol       string               `json:"symbol"`
	Bars         []engine.Bar         `json:"bars,omitempty"`
	Range        *BarRangeRef         `json:"range,omitempty"`
	Strategy     string               `json:"strategy"`
	Grid         map[string][]float64 `json:"grid"`
	RankMetric   string               `json:"rank_metric,omitempty"`
	Config       *engine.SimConfig    `json:"config,omitempty"`
	RiskFreeRate float64              `json:"risk_free_rate,omitempty"`
}

type WalkForwardRequest struct {
	Symbol       string               `json:"symbol"`
	Bars         []engine.Bar         `json:"bars,omitempty"`
	Range        *BarRangeRef         `json:"range,omitempty"`
	Strategy     string               `json:"strategy"`
	Grid         map[string][]float64 `json:"grid"`
	WindowSize   int                  `json:"window_size"`
	StepSize     int                  `json:"step_size"`
	RankMetric   string               `json:"rank_metric,omitempty"`
	Config       *engine.SimConfig    `json:"config,omitempty"`
	RiskFreeRate float64              `json:"risk_free_rate,omitempty"`
}

type MonteCarloRequest struct {
	Symbol       string            `json:"symbol"`
	Bars         []engine.Bar      `json:"bars,omitempty"`
	Range        *BarRangeRef      `json:"range,omitempty"`
	Strategy     string            `json:"strategy"`
	Params       strategies.Params `json:"params,omitempty"`
	Simulations  int               `json:"simulations"`
	Seed         int64             `json:"seed"`
	Config       *engine.SimConfig `json:"config,omitempty"`
	RiskFreeRate float64           `json:"risk_free_rate,omitempty"`
}

type PortfolioRequest struct {
	Series         []SeriesPayload    `json:"series"`
	Strategy       string             `json:"strategy"`
	Params         strategies.Params  `json:"params,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	RebalanceEvery int                `json:"rebalance_every,omitempty"`
	Config         *engine.SimConfig  `json:"config,omitempty"`
	RiskFreeRate   float64            `json:"risk_free_rate,omitempty"`
}

// CompareEntry names one contender for a strategy comparison.
type CompareEntry struct {
	Strategy string            `json:"strategy"`
	Params   strategies.Params `json:"params,omitempty"`
}

type CompareRequest struct {
	Symbol       string            `json:"symbol"`
	Bars         []engine.Bar      `json:"bars,omitempty"`
	Range        *BarRangeRef      `json:"range,omitempty"`
	Entries      []CompareEntry    `json:"entries"`
	RankMetric   string            `json:"rank_metric,omitempty"`
	Config       *engine.SimConfig `json:"config,omitempty"`
	RiskFreeRate float64           `json:"risk_free_rate,omitempty"`
}

// Codec is the content-subtype clients pass to reach this service, e.g.
// grpc.CallContentSubtype(proto.Codec).
const Codec = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return Codec }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type BacktestServiceServer interface {
	ExecuteBacktest(context.Context, *BacktestRequest) (*BacktestResponse, error)
}

// UnimplementedBacktestServiceServer may be embedded for forward
// compatibility with added methods.
type UnimplementedBacktestServiceServer struct{}

func (UnimplementedBacktestServiceServer) ExecuteBacktest(context.Context, *BacktestRequest) (*BacktestResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ExecuteBacktest not implemented")
}

func RegisterBacktestServiceServer(s grpc.ServiceRegistrar, srv BacktestServiceServer) {
	s.RegisterService(&BacktestServiceDesc, srv)
}

func executeBacktestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BacktestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).ExecuteBacktest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/quantsim.BacktestService/ExecuteBacktest",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).ExecuteBacktest(ctx, req.(*BacktestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BacktestServiceDesc is maintained by hand; there is no generated code
// behind this service.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: "quantsim.BacktestService",
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExecuteBacktest",
			Handler:    executeBacktestHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantsim/proto",
}
