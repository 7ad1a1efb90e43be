package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"stratlab/internal/backtest"
	"stratlab/internal/metrics"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stratlab.v1.Backtest"

// BacktestServer is the server API of the stratlab.v1.Backtest service.
// Messages are protobuf well-known Struct and Empty values carrying the
// same JSON shapes the CLI prints.
type BacktestServer interface {
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the stratlab.v1.Backtest service for
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunBacktest",
			Handler: unaryHandler("RunBacktest", func(srv BacktestServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.RunBacktest(ctx, in)
			}),
		},
		{
			MethodName: "ListStrategies",
			Handler: unaryHandler("ListStrategies", func(srv BacktestServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.ListStrategies(ctx, in)
			}),
		},
		{
			MethodName: "ListRuns",
			Handler: unaryHandler("ListRuns", func(srv BacktestServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.ListRuns(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stratlab/v1/backtest.proto",
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any, PReq interface {
	*Req
}](method string, call func(BacktestServer, context.Context, PReq) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Compile-time interface check.
var _ BacktestServer = (*BacktestService)(nil)

// Defaults applied to RunBacktest requests that omit a field.
type Defaults struct {
	Days           int
	InitialCapital float64
}

// BacktestService implements BacktestServer over a Backtester.
type BacktestService struct {
	backtester *backtest.Backtester
	registry   *strategy.Registry
	runs       store.RunStore // optional
	params     func(strategyID string) strategy.Params
	defaults   Defaults
	metrics    *metrics.Recorder // optional
	log        *slog.Logger
}

// NewBacktestService creates the service. runs may be nil, in which case
// ListRuns is unavailable and save requests are ignored; params may be nil.
func NewBacktestService(bt *backtest.Backtester, registry *strategy.Registry, runs store.RunStore, params func(string) strategy.Params, defaults Defaults, log *slog.Logger) *BacktestService {
	return &BacktestService{
		backtester: bt,
		registry:   registry,
		runs:       runs,
		params:     params,
		defaults:   defaults,
		log:        log.With("component", "backtest-service"),
	}
}

// SetMetrics makes the service count every run it executes in rec.
func (s *BacktestService) SetMetrics(rec *metrics.Recorder) { s.metrics = rec }

// RunBacktest runs one backtest. Request fields: strategy_id (required),
// days, initial_capital, symbol, params (object of numbers), save (bool).
// The response is the report, plus run_id when the run was saved.
func (s *BacktestService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	req := backtest.Request{
		StrategyID:     f["strategy_id"].GetStringValue(),
		Days:           int(f["days"].GetNumberValue()),
		InitialCapital: f["initial_capital"].GetNumberValue(),
		Symbol:         f["symbol"].GetStringValue(),
	}
	if req.StrategyID == "" {
		return nil, status.Error(codes.InvalidArgument, "strategy_id is required")
	}
	if req.Days == 0 {
		req.Days = s.defaults.Days
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = s.defaults.InitialCapital
	}
	if s.params != nil {
		req.Params = s.params(req.StrategyID)
	}
	for k, v := range f["params"].GetStructValue().GetFields() {
		if req.Params == nil {
			req.Params = make(strategy.Params)
		}
		req.Params[k] = v.GetNumberValue()
	}

	start := time.Now()
	run, err := s.backtester.Run(ctx, req)
	if errors.Is(err, backtest.ErrStrategyNotFound) {
		if s.metrics != nil {
			s.metrics.ObserveLookupFailure()
		}
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(run.Observation(time.Since(start)))
	}

	out, err := toStruct(run.Report)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if f["save"].GetBoolValue() && s.runs != nil {
		rec, err := run.Record()
		if err == nil {
			err = s.runs.SaveRun(ctx, rec)
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "saving run: %v", err)
		}
		out.Fields["run_id"] = structpb.NewStringValue(rec.ID)
	}
	return out, nil
}

// ListStrategies returns {"strategies": [meta...]} sorted by ID.
func (s *BacktestService) ListStrategies(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(map[string]any{"strategies": s.registry.Metas()})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// runSummary is the ListRuns row shape.
type runSummary struct {
	ID          string  `json:"id"`
	StrategyID  string  `json:"strategy_id"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	Days        int     `json:"backtest_days"`
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TotalTrades int     `json:"total_trades"`
	CreatedAt   string  `json:"created_at"`
}

// ListRuns returns {"runs": [...]} newest first. Request fields:
// strategy_id (optional filter), limit.
func (s *BacktestService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unavailable, "run store not configured")
	}
	f := in.GetFields()
	recs, err := s.runs.ListRuns(ctx, f["strategy_id"].GetStringValue(), int(f["limit"].GetNumberValue()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing runs: %v", err)
	}
	rows := make([]runSummary, len(recs))
	for i, r := range recs {
		rows[i] = runSummary{
			ID:          r.ID,
			StrategyID:  r.StrategyID,
			Symbol:      r.Symbol,
			Status:      r.Status,
			ErrorKind:   r.ErrorKind,
			Days:        r.BacktestDays,
			TotalReturn: r.TotalReturn,
			SharpeRatio: r.SharpeRatio,
			MaxDrawdown: r.MaxDrawdown,
			TotalTrades: r.TotalTrades,
			CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	out, err := toStruct(map[string]any{"runs": rows})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStruct converts any JSON-encodable value with an object shape into a
// Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return structpb.NewStruct(m)
}

// loggingInterceptor logs every unary call with its status and latency.
func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed", time.Since(start),
		)
		return resp, err
	}
}
