package model

import "time"

// BacktestType distinguishes a single backtest run from a walk-forward
// optimization run, per spec.md §3.
type BacktestType string

const (
	BacktestTypeRun      BacktestType = "RUN"
	BacktestTypeOptimize BacktestType = "OPTIMIZE"
)

// BacktestResult is the persisted record of a backtest or optimizer run.
// Result/BacktestConfig/StrategyParams are stored as opaque JSON blobs by
// internal/store; internal/backtest and internal/optimize define their
// concrete Go shapes.
type BacktestResult struct {
	ID              string `gorm:"primaryKey"`
	UserID          string
	Type            BacktestType
	Exchange        string
	Pair            string
	Timeframe       string
	StrategyType    StrategyType
	StrategyParams  string // JSON
	BacktestConfig  string // JSON
	Result          string // JSON
	CreatedAt       time.Time
}
