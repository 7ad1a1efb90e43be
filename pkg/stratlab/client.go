// Package stratlab is a Go client for the stratlab-server gRPC API.
package stratlab

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const servicePrefix = "/stratlab.v1.Backtest/"

// Client calls the stratlab.v1.Backtest service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// Dial connects to addr without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// RunRequest describes a remote backtest. Zero Days and InitialCapital use
// the server's defaults.
type RunRequest struct {
	StrategyID     string             `json:"strategy_id"`
	Days           int                `json:"days,omitempty"`
	InitialCapital float64            `json:"initial_capital,omitempty"`
	Symbol         string             `json:"symbol,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"`
	Save           bool               `json:"save,omitempty"`
}

// Report is a backtest report. Metric fields are zero unless Status is
// "success".
type Report struct {
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
	ErrorKind      string  `json:"error_kind,omitempty"`
	StrategyID     string  `json:"strategy_id"`
	Symbol         string  `json:"symbol,omitempty"`
	BacktestDays   int     `json:"backtest_days"`
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value,omitempty"`
	TotalReturn    float64 `json:"total_return,omitempty"`
	SharpeRatio    float64 `json:"sharpe_ratio,omitempty"`
	MaxDrawdown    float64 `json:"max_drawdown,omitempty"`
	TotalTrades    int     `json:"total_trades,omitempty"`
	WinRate        float64 `json:"win_rate,omitempty"`
	ProfitFactor   float64 `json:"profit_factor,omitempty"`
	AvgPnLPct      float64 `json:"avg_pnl_pct,omitempty"`
	Timestamp      string  `json:"timestamp"`
	RunID          string  `json:"run_id,omitempty"`
}

// Accepted reports whether the run succeeded with a positive Sharpe ratio.
func (r Report) Accepted() bool {
	return r.Status == "success" && r.SharpeRatio > 0
}

// Strategy describes a registered strategy. Symbols is either a list of
// tickers or the string "dynamic".
type Strategy struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Version              string             `json:"version"`
	Archetype            string             `json:"archetype"`
	AssetClass           string             `json:"asset_class"`
	HoldingPeriodMinutes [2]int             `json:"holding_period_minutes"`
	Symbols              json.RawMessage    `json:"symbols"`
	SignalSources        []string           `json:"signal_sources"`
	Params               map[string]float64 `json:"params"`
}

// Run is a stored run summary.
type Run struct {
	ID           string  `json:"id"`
	StrategyID   string  `json:"strategy_id"`
	Symbol       string  `json:"symbol"`
	Status       string  `json:"status"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	BacktestDays int     `json:"backtest_days"`
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalTrades  int     `json:"total_trades"`
	CreatedAt    string  `json:"created_at"`
}

// RunBacktest runs a backtest on the server.
func (c *Client) RunBacktest(ctx context.Context, req RunRequest) (*Report, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := c.call(ctx, "RunBacktest", in, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListStrategies returns the server's registered strategies.
func (c *Client) ListStrategies(ctx context.Context) ([]Strategy, error) {
	var out struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.call(ctx, "ListStrategies", &emptypb.Empty{}, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// ListRuns returns stored runs, newest first. An empty strategyID lists
// every strategy; limit <= 0 uses the server default.
func (c *Client) ListRuns(ctx context.Context, strategyID string, limit int) ([]Run, error) {
	in, err := structpb.NewStruct(map[string]any{"strategy_id": strategyID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.call(ctx, "ListRuns", in, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, servicePrefix+method, in, resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	data, err := resp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%s: encoding response: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	s := new(structpb.Struct)
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s, nil
}
