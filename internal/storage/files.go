package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/docstat/internal/models"
)

const filesSchema = `
CREATE TABLE IF NOT EXISTS files_metadata (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	storage_location TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMP NOT NULL
);
`

// SQLiteFileCatalog implements FileCatalog using SQLite.
type SQLiteFileCatalog struct {
	db *sql.DB
}

// NewSQLiteFileCatalog opens the catalog database at dbPath.
func NewSQLiteFileCatalog(dbPath string) (*SQLiteFileCatalog, error) {
	db, err := openSQLite(dbPath, filesSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteFileCatalog{db: db}, nil
}

// CreateFile inserts rec. A second record with the same content hash fails with ErrDuplicateHash.
func (s *SQLiteFileCatalog) CreateFile(ctx context.Context, rec *models.FileRecord) error {
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files_metadata (id, file_name, content_hash, storage_location, size, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.ContentHash, rec.StorageLocation, rec.Size, rec.UploadedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("file %s: %w", rec.ContentHash, ErrDuplicateHash)
	}
	return err
}

// GetFile returns a file record by id.
func (s *SQLiteFileCatalog) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, file_name, content_hash, storage_location, size, uploaded_at
		 FROM files_metadata WHERE id = ?`, id), id)
}

// GetFileByHash returns the file record whose content hash is hash.
func (s *SQLiteFileCatalog) GetFileByHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, file_name, content_hash, storage_location, size, uploaded_at
		 FROM files_metadata WHERE content_hash = ?`, hash), hash)
}

func (s *SQLiteFileCatalog) scanOne(row *sql.Row, key string) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := row.Scan(&rec.ID, &rec.FileName, &rec.ContentHash, &rec.StorageLocation, &rec.Size, &rec.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountFiles returns the number of stored files.
func (s *SQLiteFileCatalog) CountFiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files_metadata`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteFileCatalog) Close() error {
	return s.db.Close()
}
