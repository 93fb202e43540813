// Package transportshim defines the core's public surface as plain Go
// interfaces, one per spec.md §6 HTTP resource (backtest, historical
// data). No HTTP framework is imported here: a thin transport layer
// (out of scope) adapts these method signatures onto whatever wire
// protocol it wants. Grounded on the teacher's handler-vs-service split
// (e.g. internal/marketmaking/strategies/service) generalized into an
// interface boundary with no transport dependency at all.
package transportshim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexustrade/tradingcore/internal/backtest"
	"github.com/nexustrade/tradingcore/internal/model"
)

// RunRequest runs a single backtest of one strategy over one pair's
// candle history.
type RunRequest struct {
	UserID       string
	Exchange     string
	Pair         model.Pair
	Timeframe    model.Timeframe
	From, To     time.Time
	StrategyType model.StrategyType
	Params       map[string]interface{}
	Config       backtest.Config
}

// RunResult is the persisted+returned shape of a single run.
type RunResult struct {
	ID      string
	Summary backtest.Summary
	Result  *backtest.Result
}

// OptimizeRequest runs a walk-forward parameter search.
type OptimizeRequest struct {
	UserID       string
	Exchange     string
	Pair         model.Pair
	Timeframe    model.Timeframe
	From, To     time.Time
	StrategyType model.StrategyType
	Grid         map[string][]interface{}
	Config       backtest.Config
}

// OptimizeResult is the persisted+returned shape of an optimize run.
type OptimizeResult struct {
	ID     string
	Report json.RawMessage
}

// ListFilter mirrors spec.md §6's list/history query shape.
type ListFilter struct {
	UserID       string
	Type         model.BacktestType
	StrategyType model.StrategyType
	From, To     *time.Time
	Page, Limit  int
}

// BacktestAPI is the shape a thin transport layer adapts its
// run/optimize/list/get routes onto.
type BacktestAPI interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error)
	List(ctx context.Context, f ListFilter) ([]model.BacktestResult, error)
	Get(ctx context.Context, id string) (model.BacktestResult, error)
}

// IngestRequest starts (or schedules) historical backfill across one or
// more pairs/timeframes.
type IngestRequest struct {
	Exchange   string
	Pairs      []model.Pair
	Timeframes []model.Timeframe
	StartDate  time.Time
	EndDate    time.Time
	Async      bool
	Priority   int
}

// IngestResult reports the jobs an ingest call ran synchronously to
// completion; it is empty for an async call.
type IngestResult struct {
	Jobs []model.IngestionJob
}

// PrefetchRequest warms the candle store for a pair/timeframe/range
// ahead of a backtest or strategy activation, without creating a
// user-visible job history entry beyond the underlying ingest job.
type PrefetchRequest struct {
	Exchange  string
	Pair      model.Pair
	Timeframe model.Timeframe
	From, To  time.Time
}

// StatusResult reports one ingestion job's lifecycle state.
type StatusResult struct {
	Job model.IngestionJob
}

// GapsRequest asks for the open coverage holes of one pair/timeframe.
type GapsRequest struct {
	Pair      model.Pair
	Timeframe model.Timeframe
}

// RepairRequest schedules re-ingestion of every open gap for a
// pair/timeframe.
type RepairRequest struct {
	Exchange  string
	Pair      model.Pair
	Timeframe model.Timeframe
}

// ReadRequest reads stored candles back out, per spec.md §6's
// `read{pair,timeframe,from,to,limit}` shape.
type ReadRequest struct {
	Pair      model.Pair
	Timeframe model.Timeframe
	From, To  int64
	Limit     int
}

// HistoricalDataAPI is the shape a thin transport layer adapts its
// ingest/prefetch/status/gaps/repair/read routes onto.
type HistoricalDataAPI interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
	Prefetch(ctx context.Context, req PrefetchRequest) (StatusResult, error)
	Status(ctx context.Context, jobID string) (StatusResult, error)
	Gaps(ctx context.Context, req GapsRequest) ([]model.DataGap, error)
	Repair(ctx context.Context, req RepairRequest) error
	Read(ctx context.Context, req ReadRequest) ([]model.Candle, error)
}
