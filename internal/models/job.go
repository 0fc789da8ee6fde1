package models

import (
	"fmt"
	"time"
)

// JobStatus is the state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "Pending"
	JobStatusProcessing JobStatus = "Processing"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
)

// ParseJobStatus converts the stored string form back into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further transition happens from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Active reports whether a worker is or will be responsible for the job.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// AnalysisJob tracks one run of the analysis pipeline for a file.
// Statistics and WordCloud are meaningful only when Status is Completed;
// ErrorMessage only when Failed.
type AnalysisJob struct {
	ID             string    `json:"id" db:"id"`
	FileID         string    `json:"file_id" db:"file_id"`
	Status         JobStatus `json:"status" db:"status"`
	ParagraphCount int       `json:"paragraph_count" db:"paragraph_count"`
	WordCount      int       `json:"word_count" db:"word_count"`
	SymbolCount    int       `json:"symbol_count" db:"symbol_count"`
	WordCloud      WordCloud `json:"word_cloud,omitempty" db:"word_cloud"`
	ErrorMessage   string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
