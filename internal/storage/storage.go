// Package storage defines the metadata catalog for stored files and analysis jobs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/docstat/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateHash is returned when a file with the same content hash already exists.
	ErrDuplicateHash = errors.New("content hash already stored")
	// ErrStateConflict is returned when a job is not in the state a transition requires.
	ErrStateConflict = errors.New("job state conflict")
)

// FileCatalog persists FileRecords. ContentHash is unique.
type FileCatalog interface {
	CreateFile(ctx context.Context, rec *models.FileRecord) error
	GetFile(ctx context.Context, id string) (*models.FileRecord, error)
	GetFileByHash(ctx context.Context, hash string) (*models.FileRecord, error)
	CountFiles(ctx context.Context) (int64, error)
	Close() error
}

// JobResult holds the statistics written when a job completes.
type JobResult struct {
	ParagraphCount int
	WordCount      int
	SymbolCount    int
	WordCloud      models.WordCloud
}

// JobStore persists AnalysisJobs, one per file id.
// Transitions are conditional on the current status so that a job only moves
// Pending -> Processing -> Completed|Failed.
type JobStore interface {
	// CreateJobIfAbsent inserts job unless a job for job.FileID exists.
	// It returns the stored job and whether this call created it.
	CreateJobIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error)
	GetJob(ctx context.Context, id string) (*models.AnalysisJob, error)
	GetJobByFileID(ctx context.Context, fileID string) (*models.AnalysisJob, error)
	// MarkProcessing moves a Pending job to Processing; false means it was not Pending.
	MarkProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	CompleteJob(ctx context.Context, id string, res JobResult, at time.Time) error
	FailJob(ctx context.Context, id string, message string, at time.Time) error
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.AnalysisJob, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	Close() error
}
