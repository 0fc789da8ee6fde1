// Package models defines the records and wire types shared by the storing and analysis services.
package models

import "time"

// UploadStatus reports whether an upload stored new content or matched existing content.
type UploadStatus string

const (
	UploadStatusUploaded       UploadStatus = "Uploaded"
	UploadStatusDuplicateFound UploadStatus = "DuplicateFound"
)

// FileRecord is the catalog row for one distinct piece of content.
// ContentHash is unique across all records; a record is never mutated after insert.
type FileRecord struct {
	ID              string    `json:"id" db:"id"`
	FileName        string    `json:"file_name" db:"file_name"`
	ContentHash     string    `json:"content_hash" db:"content_hash"`
	StorageLocation string    `json:"storage_location" db:"storage_location"`
	Size            int64     `json:"size" db:"size"`
	UploadedAt      time.Time `json:"uploaded_at" db:"uploaded_at"`
}
