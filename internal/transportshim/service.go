package transportshim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/backtest"
	"github.com/nexustrade/tradingcore/internal/candlestore"
	obserrors "github.com/nexustrade/tradingcore/internal/obs/errors"
	"github.com/nexustrade/tradingcore/internal/ingest"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/optimize"
	"github.com/nexustrade/tradingcore/internal/store"
	"github.com/nexustrade/tradingcore/internal/strategy"
)

// Service implements both BacktestAPI and HistoricalDataAPI by
// delegating to the core's real components; it is the single
// concrete type a transport adapter constructs and calls through.
type Service struct {
	logger  *zap.Logger
	engine  *backtest.Engine
	factory *strategy.Factory
	optimizer *optimize.Optimizer
	candles *candlestore.Store
	meta    *store.Store
	ingestor *ingest.Ingestor
}

// New constructs a Service from the core's already-wired components.
func New(logger *zap.Logger, engine *backtest.Engine, factory *strategy.Factory, optimizer *optimize.Optimizer, candles *candlestore.Store, meta *store.Store, ingestor *ingest.Ingestor) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger.Named("transportshim"), engine: engine, factory: factory,
		optimizer: optimizer, candles: candles, meta: meta, ingestor: ingestor,
	}
}

var _ BacktestAPI = (*Service)(nil)
var _ HistoricalDataAPI = (*Service)(nil)

// Run loads the requested candle range, replays the strategy over it,
// and persists a BacktestResult row.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	candles, err := s.candles.ReadRange(req.Pair, req.Timeframe, req.From.UnixMilli(), req.To.UnixMilli())
	if err != nil {
		return RunResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: read candles", err)
	}
	if len(candles) == 0 {
		return RunResult{}, obserrors.New(obserrors.NotFound, "transportshim: no candles in requested range")
	}

	strat, err := s.factory.Create(req.StrategyType, "run-"+uuid.NewString(), req.Params)
	if err != nil {
		return RunResult{}, obserrors.Wrap(obserrors.Validation, "transportshim: construct strategy", err)
	}

	cfg := req.Config
	if cfg.InitialBalance.IsZero() {
		cfg = backtest.DefaultConfig()
	}
	result, err := s.engine.Run(strat, req.Pair, candles, cfg)
	if err != nil {
		return RunResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: run backtest", err)
	}

	paramsJSON, _ := json.Marshal(req.Params)
	cfgJSON, _ := json.Marshal(cfg)
	resultJSON, _ := json.Marshal(result)
	row := &model.BacktestResult{
		ID: uuid.NewString(), UserID: req.UserID, Type: model.BacktestTypeRun,
		Exchange: req.Exchange, Pair: string(req.Pair), Timeframe: string(req.Timeframe),
		StrategyType: req.StrategyType, StrategyParams: string(paramsJSON),
		BacktestConfig: string(cfgJSON), Result: string(resultJSON), CreatedAt: time.Now(),
	}
	if err := s.meta.SaveBacktestResult(row); err != nil {
		s.logger.Warn("failed to persist backtest result", zap.Error(err))
	}

	return RunResult{ID: row.ID, Summary: result.Summary, Result: result}, nil
}

// Optimize loads the requested candle range, runs the walk-forward
// search, and persists an OPTIMIZE-typed BacktestResult row.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	candles, err := s.candles.ReadRange(req.Pair, req.Timeframe, req.From.UnixMilli(), req.To.UnixMilli())
	if err != nil {
		return OptimizeResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: read candles", err)
	}
	if len(candles) == 0 {
		return OptimizeResult{}, obserrors.New(obserrors.NotFound, "transportshim: no candles in requested range")
	}

	cfg := req.Config
	if cfg.InitialBalance.IsZero() {
		cfg = backtest.DefaultConfig()
	}
	optCfg := optimize.DefaultConfig()

	report, err := s.optimizer.Optimize(req.StrategyType, req.Pair, candles, optimize.ParamGrid(req.Grid), cfg, optCfg)
	if err != nil {
		return OptimizeResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: optimize", err)
	}

	paramsJSON, _ := json.Marshal(req.Grid)
	cfgJSON, _ := json.Marshal(cfg)
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return OptimizeResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: marshal report", err)
	}
	row := &model.BacktestResult{
		ID: uuid.NewString(), UserID: req.UserID, Type: model.BacktestTypeOptimize,
		Exchange: req.Exchange, Pair: string(req.Pair), Timeframe: string(req.Timeframe),
		StrategyType: req.StrategyType, StrategyParams: string(paramsJSON),
		BacktestConfig: string(cfgJSON), Result: string(reportJSON), CreatedAt: time.Now(),
	}
	if err := s.meta.SaveBacktestResult(row); err != nil {
		s.logger.Warn("failed to persist optimize result", zap.Error(err))
	}

	return OptimizeResult{ID: row.ID, Report: json.RawMessage(reportJSON)}, nil
}

// List applies f's filters/pagination over backtest_result.
func (s *Service) List(ctx context.Context, f ListFilter) ([]model.BacktestResult, error) {
	rows, err := s.meta.ListBacktestResults(store.ListBacktestResultsFilter{
		UserID: f.UserID, Type: f.Type, StrategyType: f.StrategyType,
		From: f.From, To: f.To, Page: f.Page, Limit: f.Limit,
	})
	if err != nil {
		return nil, obserrors.Wrap(obserrors.Transient, "transportshim: list backtest results", err)
	}
	return rows, nil
}

// Get looks up a single backtest_result row by id.
func (s *Service) Get(ctx context.Context, id string) (model.BacktestResult, error) {
	row, err := s.meta.GetBacktestResult(id)
	if err != nil {
		return model.BacktestResult{}, obserrors.Wrap(obserrors.NotFound, "transportshim: backtest result not found", err)
	}
	return *row, nil
}

// Ingest runs one ingestion job per (pair,timeframe) pair synchronously
// when req.Async is false, or fires them in background goroutines and
// returns immediately when true. Async jobs are not included in the
// result; their rows are created by the ingestor once each job starts.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if s.ingestor == nil {
		return IngestResult{}, obserrors.New(obserrors.FatalInit, "transportshim: ingestor not configured")
	}
	var jobs []model.IngestionJob
	for _, pair := range req.Pairs {
		for _, tf := range req.Timeframes {
			if req.Async {
				go func(pair model.Pair, tf model.Timeframe) {
					if _, err := s.ingestor.Ingest(context.Background(), req.Exchange, pair, tf, req.StartDate.UnixMilli(), req.EndDate.UnixMilli(), req.Priority); err != nil {
						s.logger.Warn("async ingest failed", zap.Error(err), zap.String("pair", string(pair)), zap.String("timeframe", string(tf)))
					}
				}(pair, tf)
				continue
			}
			job, err := s.ingestor.Ingest(ctx, req.Exchange, pair, tf, req.StartDate.UnixMilli(), req.EndDate.UnixMilli(), req.Priority)
			if err != nil {
				return IngestResult{Jobs: jobs}, obserrors.Wrap(obserrors.Transient, "transportshim: ingest", err)
			}
			jobs = append(jobs, *job)
		}
	}
	return IngestResult{Jobs: jobs}, nil
}

// Prefetch is a synchronous, single-pair convenience wrapper over
// Ingest, returning the completed (or failed) job's status.
func (s *Service) Prefetch(ctx context.Context, req PrefetchRequest) (StatusResult, error) {
	if s.ingestor == nil {
		return StatusResult{}, obserrors.New(obserrors.FatalInit, "transportshim: ingestor not configured")
	}
	job, err := s.ingestor.Ingest(ctx, req.Exchange, req.Pair, req.Timeframe, req.From.UnixMilli(), req.To.UnixMilli(), 1)
	if err != nil {
		return StatusResult{}, obserrors.Wrap(obserrors.Transient, "transportshim: prefetch", err)
	}
	return StatusResult{Job: *job}, nil
}

// Status looks up one ingestion job's current row.
func (s *Service) Status(ctx context.Context, jobID string) (StatusResult, error) {
	job, err := s.meta.GetJob(jobID)
	if err != nil {
		return StatusResult{}, obserrors.Wrap(obserrors.NotFound, "transportshim: job not found", err)
	}
	return StatusResult{Job: *job}, nil
}

// Gaps returns the open coverage holes for a pair/timeframe, detecting
// fresh ones against the candle store before returning.
func (s *Service) Gaps(ctx context.Context, req GapsRequest) ([]model.DataGap, error) {
	if s.ingestor == nil {
		return nil, obserrors.New(obserrors.FatalInit, "transportshim: ingestor not configured")
	}
	gaps, err := s.ingestor.DetectGaps(req.Pair, req.Timeframe)
	if err != nil {
		return nil, obserrors.Wrap(obserrors.Transient, "transportshim: detect gaps", err)
	}
	return gaps, nil
}

// Repair re-ingests every open gap for a pair/timeframe at priority 2.
func (s *Service) Repair(ctx context.Context, req RepairRequest) error {
	if s.ingestor == nil {
		return obserrors.New(obserrors.FatalInit, "transportshim: ingestor not configured")
	}
	if err := s.ingestor.RepairGaps(ctx, req.Exchange, req.Pair, req.Timeframe); err != nil {
		return obserrors.Wrap(obserrors.Transient, "transportshim: repair gaps", err)
	}
	return nil
}

// Read returns stored candles in [From,To], capped at Limit when set.
func (s *Service) Read(ctx context.Context, req ReadRequest) ([]model.Candle, error) {
	candles, err := s.candles.ReadRange(req.Pair, req.Timeframe, req.From, req.To)
	if err != nil {
		return nil, obserrors.Wrap(obserrors.Transient, "transportshim: read candles", err)
	}
	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[:req.Limit]
	}
	return candles, nil
}
