// Package store is the relational metadata layer for IngestionJob,
// DataSource, DataGap and BacktestResult (spec.md §3, §6), grounded on
// internal/database/postgres.go's *gorm.DB connection pattern — sqlite
// for embeddable/test mode, postgres for production, both already in
// the teacher's go.mod.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nexustrade/tradingcore/internal/model"
)

// Open connects to a postgres database at dsn with trading-sized pool
// defaults, mirroring internal/database/postgres.go.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:       gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// OpenSQLite connects to an embedded sqlite database, for local running
// and tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: connect sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates/updates the four tables spec.md §6 names.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.IngestionJob{}, &model.DataSource{}, &model.DataGap{}, &model.BacktestResult{})
}

// Store provides idempotent upserts and lookups over the metadata tables.
type Store struct {
	db *gorm.DB
}

// New wraps an opened, migrated *gorm.DB.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// UpsertJob inserts or updates an IngestionJob by its id.
func (s *Store) UpsertJob(job *model.IngestionJob) error {
	return s.db.Save(job).Error
}

// GetJob looks up a job by id.
func (s *Store) GetJob(id string) (*model.IngestionJob, error) {
	var job model.IngestionJob
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// UpsertDataSource upserts by the (pair,timeframe,exchange) unique key.
func (s *Store) UpsertDataSource(ds *model.DataSource) error {
	return s.db.Save(ds).Error
}

// GetDataSource looks up coverage metadata for (pair,timeframe,exchange).
func (s *Store) GetDataSource(pair, tf, exchange string) (*model.DataSource, error) {
	var ds model.DataSource
	err := s.db.First(&ds, "pair = ? AND timeframe = ? AND exchange = ?", pair, tf, exchange).Error
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// InsertGap persists a detected gap.
func (s *Store) InsertGap(gap *model.DataGap) error {
	return s.db.Create(gap).Error
}

// OpenGaps returns all unrepaired gaps for (pair,timeframe).
func (s *Store) OpenGaps(pair, tf string) ([]model.DataGap, error) {
	var gaps []model.DataGap
	err := s.db.Where("pair = ? AND timeframe = ? AND is_repaired = ?", pair, tf, false).Find(&gaps).Error
	return gaps, err
}

// MarkGapRepaired flips is_repaired and stamps repaired_at.
func (s *Store) MarkGapRepaired(id string, at time.Time) error {
	return s.db.Model(&model.DataGap{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_repaired": true, "repaired_at": at,
	}).Error
}

// SaveBacktestResult persists one run/optimize record.
func (s *Store) SaveBacktestResult(r *model.BacktestResult) error {
	return s.db.Create(r).Error
}

// GetBacktestResult looks up a result by id.
func (s *Store) GetBacktestResult(id string) (*model.BacktestResult, error) {
	var r model.BacktestResult
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListBacktestResultsFilter mirrors spec.md §6's HTTP filter shape.
type ListBacktestResultsFilter struct {
	UserID       string
	Type         model.BacktestType
	StrategyType model.StrategyType
	From, To     *time.Time
	Page, Limit  int
}

// ListBacktestResults applies filter and pagination over backtest_result.
func (s *Store) ListBacktestResults(f ListBacktestResultsFilter) ([]model.BacktestResult, error) {
	q := s.db.Model(&model.BacktestResult{}).Where("user_id = ?", f.UserID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.StrategyType != "" {
		q = q.Where("strategy_type = ?", f.StrategyType)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	var out []model.BacktestResult
	err := q.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&out).Error
	return out, err
}
