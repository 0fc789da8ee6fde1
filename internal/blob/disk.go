package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const tempDirName = ".tmp"

// DiskStore keeps each blob as a file under root.
// Writes go to a temp file first and are renamed into place, so a blob is
// either fully present or absent.
type DiskStore struct {
	root string
}

// NewDiskStore creates root (and its temp area) if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, errors.New("blob root path is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, tempDirName), 0755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Root returns the directory blobs are stored under.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) path(location string) (string, error) {
	if err := validateLocation(location); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(location)), nil
}

// Put writes data at location, replacing any existing blob.
func (s *DiskStore) Put(ctx context.Context, location string, data []byte) error {
	full, err := s.path(location)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmpPath := filepath.Join(s.root, tempDirName, tempName())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing blob %q: %w", location, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing blob %q: %w", location, err)
	}
	return nil
}

// Get returns the blob at location or ErrNotFound.
func (s *DiskStore) Get(ctx context.Context, location string) ([]byte, error) {
	full, err := s.path(location)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", location, ErrNotFound)
		}
		return nil, fmt.Errorf("reading blob %q: %w", location, err)
	}
	return data, nil
}

// Exists reports whether a blob is present at location.
func (s *DiskStore) Exists(ctx context.Context, location string) (bool, error) {
	full, err := s.path(location)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Delete removes the blob at location. Missing blobs are not an error.
func (s *DiskStore) Delete(ctx context.Context, location string) error {
	full, err := s.path(location)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %q: %w", location, err)
	}
	return nil
}

// UsageBytes returns the total size of committed blobs under root.
// In-progress writes in the temp area are not counted.
func (s *DiskStore) UsageBytes() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == tempDirName && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Close is a no-op for the disk store.
func (s *DiskStore) Close() error { return nil }

func tempName() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
