package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docstat/internal/models"
)

func newTestCatalog(t *testing.T) *SQLiteFileCatalog {
	t.Helper()
	catalog, err := NewSQLiteFileCatalog(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestSQLiteFileCatalog_CRUD(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	rec := &models.FileRecord{
		ID:              "f1",
		FileName:        "notes.txt",
		ContentHash:     "abc123",
		StorageLocation: "2026/10/14/f1.txt",
		Size:            42,
	}
	if err := catalog.CreateFile(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.UploadedAt.IsZero() {
		t.Error("UploadedAt should be set")
	}

	got, err := catalog.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FileName != "notes.txt" || got.ContentHash != "abc123" || got.Size != 42 {
		t.Errorf("got %+v", got)
	}
	if got.StorageLocation != rec.StorageLocation {
		t.Errorf("StorageLocation = %q", got.StorageLocation)
	}

	byHash, err := catalog.GetFileByHash(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if byHash.ID != "f1" {
		t.Errorf("GetFileByHash id = %q", byHash.ID)
	}

	n, err := catalog.CountFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountFiles = %d, want 1", n)
	}
}

func TestSQLiteFileCatalog_NotFound(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	if _, err := catalog.GetFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile err = %v, want ErrNotFound", err)
	}
	if _, err := catalog.GetFileByHash(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFileByHash err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteFileCatalog_DuplicateHash(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	first := &models.FileRecord{ID: "a", FileName: "a.txt", ContentHash: "same", StorageLocation: "a"}
	second := &models.FileRecord{ID: "b", FileName: "b.txt", ContentHash: "same", StorageLocation: "b"}
	if err := catalog.CreateFile(ctx, first); err != nil {
		t.Fatal(err)
	}
	err := catalog.CreateFile(ctx, second)
	if !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("second CreateFile err = %v, want ErrDuplicateHash", err)
	}
	n, _ := catalog.CountFiles(ctx)
	if n != 1 {
		t.Errorf("CountFiles = %d, want 1", n)
	}
}

func TestSQLiteFileCatalog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "files.db")
	catalog, err := NewSQLiteFileCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := catalog.CreateFile(ctx, &models.FileRecord{ID: "x", FileName: "x", ContentHash: "h", StorageLocation: "x"}); err != nil {
		t.Fatal(err)
	}
	catalog.Close()

	reopened, err := NewSQLiteFileCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetFile(ctx, "x"); err != nil {
		t.Errorf("record lost after reopen: %v", err)
	}
}
