// Package contentstore keeps each distinct piece of uploaded content exactly once.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/blob"
	"github.com/hyperjump/docstat/internal/models"
	"github.com/hyperjump/docstat/internal/storage"
)

// DefaultNotifyTimeout bounds the detached analysis notification after an upload.
const DefaultNotifyTimeout = 10 * time.Second

// Notifier is told about newly stored files.
type Notifier interface {
	Trigger(ctx context.Context, fileID string) (*models.AnalysisTriggerResponse, error)
}

// UploadResult is the outcome of Upload.
type UploadResult struct {
	FileID string
	Status models.UploadStatus
}

// Stats summarizes what the store holds.
type Stats struct {
	Files      int64 `json:"files"`
	UsageBytes int64 `json:"usage_bytes"`
}

// Service implements Upload, Read and LookupByHash over a catalog and a blob area.
type Service struct {
	catalog       storage.FileCatalog
	blobs         blob.Store
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets who is told when new content is stored. nil disables notification.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithNotifyTimeout overrides DefaultNotifyTimeout.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for upload timestamps and locations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(catalog storage.FileCatalog, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		catalog:       catalog,
		blobs:         blobs,
		notifyTimeout: DefaultNotifyTimeout,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashContent returns the lower-case hex SHA-256 digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Upload stores data unless identical content already exists.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, apperr.New(apperr.Invalid, "no file uploaded")
	}
	hash := HashContent(data)

	existing, err := s.catalog.GetFileByHash(ctx, hash)
	if err == nil {
		s.logger.Info("Duplicate upload",
			zap.String("file_name", fileName),
			zap.String("file_id", existing.ID),
			zap.String("hash", hash))
		return UploadResult{FileID: existing.ID, Status: models.UploadStatusDuplicateFound}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return UploadResult{}, apperr.Wrap(apperr.Internal, err, "lookup by hash")
	}

	now := s.now().UTC()
	id := uuid.NewString()
	rec := &models.FileRecord{
		ID:              id,
		FileName:        fileName,
		ContentHash:     hash,
		StorageLocation: storageLocation(now, id, fileName),
		Size:            int64(len(data)),
		UploadedAt:      now,
	}

	if err := s.blobs.Put(ctx, rec.StorageLocation, data); err != nil {
		return UploadResult{}, apperr.Wrap(apperr.Internal, err, "error saving file content")
	}
	if err := s.catalog.CreateFile(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateHash) {
			return s.resolveRace(ctx, rec)
		}
		s.removeBlob(rec.StorageLocation)
		return UploadResult{}, apperr.Wrap(apperr.Internal, err, "error saving file metadata")
	}

	s.logger.Info("File uploaded",
		zap.String("file_name", fileName),
		zap.String("file_id", id),
		zap.Int64("size", rec.Size))
	s.notify(id)
	return UploadResult{FileID: id, Status: models.UploadStatusUploaded}, nil
}

// resolveRace handles a concurrent upload of the same content that committed first.
func (s *Service) resolveRace(ctx context.Context, lost *models.FileRecord) (UploadResult, error) {
	s.removeBlob(lost.StorageLocation)
	winner, err := s.catalog.GetFileByHash(ctx, lost.ContentHash)
	if err != nil {
		return UploadResult{}, apperr.Wrap(apperr.Internal, err, "lookup after duplicate insert")
	}
	s.logger.Info("Concurrent duplicate upload",
		zap.String("file_id", winner.ID),
		zap.String("hash", lost.ContentHash))
	return UploadResult{FileID: winner.ID, Status: models.UploadStatusDuplicateFound}, nil
}

func (s *Service) removeBlob(location string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, location); err != nil {
		s.logger.Warn("Failed to remove orphan blob", zap.String("location", location), zap.Error(err))
	}
}

func (s *Service) notify(fileID string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		resp, err := s.notifier.Trigger(ctx, fileID)
		if err != nil {
			s.logger.Warn("Failed to trigger analysis", zap.String("file_id", fileID), zap.Error(err))
			return
		}
		s.logger.Debug("Analysis triggered",
			zap.String("file_id", fileID),
			zap.String("status", string(resp.Status)))
	}()
}

// Read returns the record and bytes for id.
func (s *Service) Read(ctx context.Context, id string) (*models.FileRecord, []byte, error) {
	rec, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, rec.StorageLocation)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("File content missing from storage",
				zap.String("file_id", id),
				zap.String("location", rec.StorageLocation))
			return nil, nil, apperr.Wrap(apperr.ContentMissing, err, "content not found in storage")
		}
		return nil, nil, apperr.Wrap(apperr.Internal, err, "error reading file content from storage")
	}
	return rec, data, nil
}

// Stat returns the record for id without reading content.
func (s *Service) Stat(ctx context.Context, id string) (*models.FileRecord, error) {
	if id == "" {
		return nil, apperr.New(apperr.Invalid, "file id is required")
	}
	rec, err := s.catalog.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "file with id %s not found", id)
		}
		return nil, apperr.Wrap(apperr.Internal, err, "get file")
	}
	return rec, nil
}

// LookupByHash returns the record holding content with the given digest.
func (s *Service) LookupByHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	rec, err := s.catalog.GetFileByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "no file with hash %s", hash)
		}
		return nil, apperr.Wrap(apperr.Internal, err, "lookup by hash")
	}
	return rec, nil
}

// Stats reports the file count and, for local blob backends, bytes on disk.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.catalog.CountFiles(ctx)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.Internal, err, "count files")
	}
	st := Stats{Files: n}
	usage, ok, err := blob.UsageBytes(s.blobs)
	if err != nil {
		s.logger.Warn("Failed to compute blob usage", zap.Error(err))
	} else if ok {
		st.UsageBytes = usage
	}
	return st, nil
}

// storageLocation returns yyyy/MM/dd/<id><ext> for a file stored at t.
func storageLocation(t time.Time, id, fileName string) string {
	return path.Join(t.Format("2006/01/02"), id+filepath.Ext(fileName))
}
