package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/docstat/internal/models"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS analysis_results (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	paragraph_count INTEGER NOT NULL DEFAULT 0,
	word_count INTEGER NOT NULL DEFAULT 0,
	symbol_count INTEGER NOT NULL DEFAULT 0,
	word_cloud TEXT,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_status ON analysis_results(status);
`

const jobColumns = `id, file_id, status, paragraph_count, word_count, symbol_count,
	word_cloud, error_message, created_at, updated_at`

// SQLiteJobStore implements JobStore using SQLite.
type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore opens the analysis database at dbPath.
func NewSQLiteJobStore(dbPath string) (*SQLiteJobStore, error) {
	db, err := openSQLite(dbPath, jobsSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteJobStore{db: db}, nil
}

// CreateJobIfAbsent inserts job in one statement; the UNIQUE file_id makes it atomic.
func (s *SQLiteJobStore) CreateJobIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error) {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_results (id, file_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO NOTHING`,
		job.ID, job.FileID, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		created := *job
		return &created, true, nil
	}
	existing, err := s.GetJobByFileID(ctx, job.FileID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing job: %w", err)
	}
	return existing, false, nil
}

// GetJob returns a job by its id.
func (s *SQLiteJobStore) GetJob(ctx context.Context, id string) (*models.AnalysisJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_results WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// GetJobByFileID returns the job for fileID.
func (s *SQLiteJobStore) GetJobByFileID(ctx context.Context, fileID string) (*models.AnalysisJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_results WHERE file_id = ?`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job for file %s: %w", fileID, ErrNotFound)
	}
	return job, err
}

// MarkProcessing moves a Pending job to Processing.
func (s *SQLiteJobStore) MarkProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_results SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.JobStatusProcessing), at.UTC(), id, string(models.JobStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteJob stores statistics and moves a Processing job to Completed.
func (s *SQLiteJobStore) CompleteJob(ctx context.Context, id string, res JobResult, at time.Time) error {
	cloud := res.WordCloud
	if cloud == nil {
		cloud = models.WordCloud{}
	}
	cloudJSON, err := json.Marshal(cloud)
	if err != nil {
		return fmt.Errorf("failed to marshal word cloud: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_results
		 SET status = ?, paragraph_count = ?, word_count = ?, symbol_count = ?,
		     word_cloud = ?, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.JobStatusCompleted), res.ParagraphCount, res.WordCount, res.SymbolCount,
		string(cloudJSON), at.UTC(), id, string(models.JobStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireOneRow(result, id)
}

// FailJob records message and moves a Processing job to Failed.
func (s *SQLiteJobStore) FailJob(ctx context.Context, id string, message string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE analysis_results SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.JobStatusFailed), message, at.UTC(), id, string(models.JobStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark job as failed: %w", err)
	}
	return requireOneRow(result, id)
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s is not processing: %w", id, ErrStateConflict)
	}
	return nil
}

// ListJobsByStatus returns all jobs in status, oldest update first.
func (s *SQLiteJobStore) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.AnalysisJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_results WHERE status = ? ORDER BY updated_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns the number of jobs per status.
func (s *SQLiteJobStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_results GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.AnalysisJob, error) {
	var (
		job       models.AnalysisJob
		status    string
		cloudJSON sql.NullString
		errMsg    sql.NullString
	)
	err := row.Scan(&job.ID, &job.FileID, &status, &job.ParagraphCount, &job.WordCount,
		&job.SymbolCount, &cloudJSON, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if job.Status, err = models.ParseJobStatus(status); err != nil {
		return nil, err
	}
	if cloudJSON.Valid && cloudJSON.String != "" {
		if err := json.Unmarshal([]byte(cloudJSON.String), &job.WordCloud); err != nil {
			return nil, fmt.Errorf("failed to unmarshal word cloud: %w", err)
		}
	}
	job.ErrorMessage = errMsg.String
	return &job, nil
}
