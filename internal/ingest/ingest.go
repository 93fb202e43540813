// Package ingest runs chunked historical backfills and gap detection
// for the columnar candle store, per spec.md §4.3. Grounded on
// internal/marketfeeds/service.go's polling-loop shape (stopChan,
// RWMutex-guarded maps, *gorm.DB persistence) and the priority-queue/
// state-machine idiom of internal/trading/orderqueue/queue.go and
// state_manager.go for the IngestionJob lifecycle.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/candlestore"
	"github.com/nexustrade/tradingcore/internal/model"
	"github.com/nexustrade/tradingcore/internal/obs/metrics"
	"github.com/nexustrade/tradingcore/internal/store"
)

// Fetcher retrieves up to limit candles for (pair,timeframe) starting
// at or after fromMs, from one exchange. Implementations wrap an
// outbound exchange REST client.
type Fetcher interface {
	FetchCandles(ctx context.Context, exchange string, pair model.Pair, tf model.Timeframe, fromMs int64, limit int) ([]model.Candle, error)
}

// Config tunes the ingestor, per spec.md §6's defaults.
type Config struct {
	RateLimit   time.Duration
	ChunkSize   int
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultConfig returns spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{RateLimit: 100 * time.Millisecond, ChunkSize: 1000, MaxRetries: 3, RetryDelay: 5 * time.Second}
}

// Ingestor owns chunked backfill and gap repair against a Fetcher, a
// candlestore.Store, and the relational metadata store.
type Ingestor struct {
	logger  *zap.Logger
	fetcher Fetcher
	candles *candlestore.Store
	meta    *store.Store
	metrics *metrics.Ingest
	cfg     Config
}

// New constructs an Ingestor.
func New(logger *zap.Logger, fetcher Fetcher, candles *candlestore.Store, meta *store.Store, m *metrics.Ingest, cfg Config) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Ingestor{logger: logger.Named("ingest"), fetcher: fetcher, candles: candles, meta: meta, metrics: m, cfg: cfg}
}

// Ingest runs the chunked backfill of spec.md §4.3 for
// [startMs,endMs) on (exchange,pair,timeframe), at the given priority.
// It persists and advances an IngestionJob row, polls it each chunk
// for cancellation, and retries transient fetch failures with
// exponential backoff retryDelay·attempt.
func (ing *Ingestor) Ingest(ctx context.Context, exchange string, pair model.Pair, tf model.Timeframe, startMs, endMs int64, priority int) (*model.IngestionJob, error) {
	tfMs, err := tf.Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	now := time.Now()
	job := &model.IngestionJob{
		ID: uuid.New().String(), Pair: string(pair), Timeframe: string(tf), Exchange: exchange,
		Status: model.JobPending, Priority: priority, CreatedAt: now,
	}
	if err := ing.meta.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("ingest: create job: %w", err)
	}

	job.Status = model.JobRunning
	job.StartedAt = &now
	if err := ing.meta.UpsertJob(job); err != nil {
		return nil, fmt.Errorf("ingest: start job: %w", err)
	}

	current := startMs
	for current < endMs {
		if latest, err := ing.meta.GetJob(job.ID); err == nil && latest.Status == model.JobCancelled {
			ing.logger.Info("ingestion cancelled", zap.String("jobId", job.ID))
			job.Status = model.JobCancelled
			_ = ing.meta.UpsertJob(job)
			return job, nil
		}

		batch, err := ing.fetchWithRetry(ctx, exchange, pair, tf, current, ing.cfg.ChunkSize)
		if err != nil {
			job.Status = model.JobFailed
			job.ErrorMessage = err.Error()
			completed := time.Now()
			job.CompletedAt = &completed
			_ = ing.meta.UpsertJob(job)
			return job, fmt.Errorf("ingest: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		valid := make([]model.Candle, 0, len(batch))
		for _, c := range batch {
			if verr := c.Validate(); verr != nil {
				ing.logger.Warn("dropping invalid candle", zap.Error(verr))
				continue
			}
			valid = append(valid, c)
		}
		if len(valid) > 0 {
			if err := ing.candles.AppendCandles(pair, tf, valid); err != nil {
				job.Status = model.JobFailed
				job.ErrorMessage = err.Error()
				completed := time.Now()
				job.CompletedAt = &completed
				_ = ing.meta.UpsertJob(job)
				return job, fmt.Errorf("ingest: store: %w", err)
			}
		}

		job.CandlesFetched += int64(len(batch))
		job.CandlesStored += int64(len(valid))
		if ing.metrics != nil {
			ing.metrics.CandlesFetched.Add(float64(len(batch)))
			ing.metrics.CandlesStored.Add(float64(len(valid)))
		}
		if err := ing.meta.UpsertJob(job); err != nil {
			ing.logger.Warn("failed to persist job progress", zap.Error(err))
		}

		lastTs := batch[len(batch)-1].TimestampMs
		next := lastTs + tfMs
		if next <= current {
			break
		}
		current = next

		select {
		case <-ctx.Done():
			job.Status = model.JobCancelled
			_ = ing.meta.UpsertJob(job)
			return job, ctx.Err()
		case <-time.After(ing.cfg.RateLimit):
		}
	}

	job.Status = model.JobCompleted
	completed := time.Now()
	job.CompletedAt = &completed
	if err := ing.meta.UpsertJob(job); err != nil {
		return job, fmt.Errorf("ingest: finalize job: %w", err)
	}

	ing.updateDataSource(exchange, pair, tf)
	return job, nil
}

func (ing *Ingestor) fetchWithRetry(ctx context.Context, exchange string, pair model.Pair, tf model.Timeframe, fromMs int64, limit int) ([]model.Candle, error) {
	maxRetries := ing.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		batch, err := ing.fetcher.FetchCandles(ctx, exchange, pair, tf, fromMs, limit)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		if ing.metrics != nil {
			ing.metrics.Retries.Inc()
		}
		ing.logger.Warn("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ing.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("ingest: fetch %s/%s/%s exhausted retries: %w", exchange, pair, tf, lastErr)
}

func (ing *Ingestor) updateDataSource(exchange string, pair model.Pair, tf model.Timeframe) {
	rng, ok := ing.candles.GetAvailableRange(pair, tf)
	if !ok {
		return
	}
	ds := &model.DataSource{
		Pair: string(pair), Timeframe: string(tf), Exchange: exchange,
		EarliestDate: time.UnixMilli(rng.Earliest).UTC(), LatestDate: time.UnixMilli(rng.Latest).UTC(),
		TotalCandles: rng.TotalCandles, LastUpdated: time.Now(),
	}
	if err := ing.meta.UpsertDataSource(ds); err != nil {
		ing.logger.Warn("failed to update data source", zap.Error(err))
	}
}

// CancelJob flags a running job for cancellation; the ingestion loop
// observes this on its next chunk boundary.
func (ing *Ingestor) CancelJob(jobID string) error {
	job, err := ing.meta.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("ingest: cancel: %w", err)
	}
	job.Status = model.JobCancelled
	return ing.meta.UpsertJob(job)
}

// DetectGaps walks the stored candles for (pair,timeframe) and returns
// every neighbor pair with Δt > 1.5·tf as a gap, per spec.md §4.3. If
// no DataSource exists yet, the entire [2020-01-01,now] range is
// reported as a single gap.
func (ing *Ingestor) DetectGaps(pair model.Pair, tf model.Timeframe) ([]model.DataGap, error) {
	tfMs, err := tf.Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	rng, ok := ing.candles.GetAvailableRange(pair, tf)
	if !ok {
		epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		return []model.DataGap{{
			ID: uuid.New().String(), Pair: string(pair), Timeframe: string(tf),
			GapStart: epoch, GapEnd: time.Now(), Reason: "no data source", DetectedAt: time.Now(),
		}}, nil
	}

	candles, err := ing.candles.ReadRange(pair, tf, rng.Earliest, rng.Latest)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	threshold := int64(float64(tfMs) * 1.5)
	var gaps []model.DataGap
	for i := 1; i < len(candles); i++ {
		delta := candles[i].TimestampMs - candles[i-1].TimestampMs
		if delta > threshold {
			gaps = append(gaps, model.DataGap{
				ID: uuid.New().String(), Pair: string(pair), Timeframe: string(tf),
				GapStart:   time.UnixMilli(candles[i-1].TimestampMs + tfMs).UTC(),
				GapEnd:     time.UnixMilli(candles[i].TimestampMs - tfMs).UTC(),
				Reason:     fmt.Sprintf("delta %dms exceeds 1.5x timeframe", delta),
				DetectedAt: time.Now(),
			})
		}
	}
	if ing.metrics != nil && len(gaps) > 0 {
		ing.metrics.GapsDetected.Add(float64(len(gaps)))
	}
	for _, g := range gaps {
		if err := ing.meta.InsertGap(&g); err != nil {
			ing.logger.Warn("failed to persist gap", zap.Error(err))
		}
	}
	return gaps, nil
}

// RepairGaps re-ingests every open gap for (pair,timeframe) at
// priority 2, per spec.md §4.3.
func (ing *Ingestor) RepairGaps(ctx context.Context, exchange string, pair model.Pair, tf model.Timeframe) error {
	gaps, err := ing.meta.OpenGaps(string(pair), string(tf))
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	for _, gap := range gaps {
		_, err := ing.Ingest(ctx, exchange, pair, tf, gap.GapStart.UnixMilli(), gap.GapEnd.UnixMilli(), 2)
		if err != nil {
			return fmt.Errorf("ingest: repair gap %s: %w", gap.ID, err)
		}
		if err := ing.meta.MarkGapRepaired(gap.ID, time.Now()); err != nil {
			ing.logger.Warn("failed to mark gap repaired", zap.Error(err))
		}
	}
	return nil
}
