package model

import "time"

// JobStatus is the IngestionJob lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IngestionJob tracks one chunked historical backfill run, per spec.md §3.
type IngestionJob struct {
	ID             string     `gorm:"primaryKey"`
	Pair           string
	Timeframe      string
	Exchange       string
	Status         JobStatus
	Priority       int
	CandlesFetched int64
	CandlesStored  int64
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
}

// DataSource tracks what candle coverage exists on disk for a
// (pair,timeframe,exchange), unique per spec.md §3.
type DataSource struct {
	Pair          string `gorm:"primaryKey"`
	Timeframe     string `gorm:"primaryKey"`
	Exchange      string `gorm:"primaryKey"`
	EarliestDate  time.Time
	LatestDate    time.Time
	TotalCandles  int64
	FilePath      string
	FileSize      int64
	IsComplete    bool
	LastUpdated   time.Time
}

// DataGap is a detected hole in candle coverage, repaired by re-ingesting
// at priority 2.
type DataGap struct {
	ID         string `gorm:"primaryKey"`
	Pair       string
	Timeframe  string
	GapStart   time.Time
	GapEnd     time.Time
	Reason     string
	IsRepaired bool
	DetectedAt time.Time
	RepairedAt *time.Time
}
