// Package blob provides the byte-addressable area where uploaded content is kept.
// Locations are opaque relative paths chosen by the caller.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when no blob exists at a location.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidLocation is returned for empty, absolute or escaping locations.
	ErrInvalidLocation = errors.New("invalid blob location")
	// ErrUsageUnknown is returned by a UsageReporter that cannot measure its backend.
	ErrUsageUnknown = errors.New("blob usage unknown")
)

// Store reads and writes blobs by location.
type Store interface {
	Put(ctx context.Context, location string, data []byte) error
	Get(ctx context.Context, location string) ([]byte, error)
	Exists(ctx context.Context, location string) (bool, error)
	Delete(ctx context.Context, location string) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	// BackendDisk keeps blobs under a local root directory.
	BackendDisk Backend = "disk"
	// BackendMinIO keeps blobs in an S3-compatible bucket.
	BackendMinIO Backend = "minio"
)

// Options selects and configures a backend.
type Options struct {
	Backend  Backend
	Root     string
	Compress bool
	MinIO    MinIOOptions
}

// NewStore creates the store described by opts.
// Supported backends: "disk" (default), "minio". Compress wraps either with zstd.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case BackendDisk, "":
		store, err = NewDiskStore(opts.Root)
	case BackendMinIO:
		store, err = NewMinIOStore(ctx, opts.MinIO)
	default:
		return nil, fmt.Errorf("unknown blob backend: %s (supported: disk, minio)", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.Compress {
		store = NewCompressedStore(store)
	}
	return store, nil
}

// validateLocation rejects locations that could escape the store root.
func validateLocation(location string) error {
	if location == "" {
		return fmt.Errorf("empty location: %w", ErrInvalidLocation)
	}
	if filepath.IsAbs(location) || strings.HasPrefix(location, "/") {
		return fmt.Errorf("absolute location %q: %w", location, ErrInvalidLocation)
	}
	if strings.Contains(location, "\x00") {
		return fmt.Errorf("null byte in location: %w", ErrInvalidLocation)
	}
	for _, part := range strings.Split(filepath.ToSlash(location), "/") {
		if part == ".." {
			return fmt.Errorf("location %q escapes root: %w", location, ErrInvalidLocation)
		}
	}
	return nil
}

// UsageReporter is implemented by stores that can report their size cheaply.
type UsageReporter interface {
	UsageBytes() (int64, error)
}

// UsageBytes reports the bytes held by store. ok is false when the backend
// cannot tell cheaply (object storage).
func UsageBytes(store Store) (n int64, ok bool, err error) {
	r, isReporter := store.(UsageReporter)
	if !isReporter {
		return 0, false, nil
	}
	n, err = r.UsageBytes()
	if errors.Is(err, ErrUsageUnknown) {
		return 0, false, nil
	}
	return n, true, err
}
