package watcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docstat/internal/models"
)

type fakeUploader struct {
	mu      sync.Mutex
	names   []string
	content []string
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, name string, r io.Reader) (*models.FileUploadResponse, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.names = append(f.names, name)
	f.content = append(f.content, string(data))
	return &models.FileUploadResponse{FileID: "id-" + name, Status: models.UploadStatusUploaded}, nil
}

func (f *fakeUploader) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestInbox_UploadsNewFile(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	var results []Result
	var mu sync.Mutex
	in := NewInbox([]string{dir}, []string{".txt"}, true, up,
		WithDebounce(50*time.Millisecond),
		OnResult(func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	if err := writeFile(filepath.Join(dir, "note.txt"), "hello world"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(up.uploaded()) >= 1 })

	up.mu.Lock()
	if up.names[0] != "note.txt" || up.content[0] != "hello world" {
		t.Errorf("uploaded %v %v", up.names, up.content)
	}
	up.mu.Unlock()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 1
	})
	mu.Lock()
	defer mu.Unlock()
	if results[0].Err != nil || results[0].Response.FileID != "id-note.txt" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestInbox_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	in := NewInbox([]string{dir}, []string{".txt"}, true, up, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	path := filepath.Join(dir, "f.txt")
	for i := 0; i < 5; i++ {
		if err := writeFile(path, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := writeFile(filepath.Join(dir, "skip.md"), "no"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, ".hidden.txt"), "no"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(up.uploaded()) >= 1 })
	time.Sleep(400 * time.Millisecond)

	got := up.uploaded()
	if len(got) != 1 || got[0] != "f.txt" {
		t.Errorf("uploaded = %v, want exactly [f.txt]", got)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.content[0] != "xxxxx" {
		t.Errorf("content = %q, want final write", up.content[0])
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.txt", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInbox_Wanted(t *testing.T) {
	in := NewInbox(nil, []string{".txt"}, true, &fakeUploader{})
	tests := []struct {
		path string
		want bool
	}{
		{"/in/a.txt", true},
		{"/in/.a.txt", false},
		{"/in/a.txt.swp", false},
	}
	for _, tt := range tests {
		if got := in.wanted(tt.path); got != tt.want {
			t.Errorf("wanted(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInbox_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	for path, content := range map[string]string{
		filepath.Join(dir, "a.txt"):      "hello",
		filepath.Join(dir, "ignore.xyz"): "x",
		filepath.Join(sub, "b.txt"):      "nested",
	} {
		if err := writeFile(path, content); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		recursive bool
		want      int
	}{
		{"recursive", true, 2},
		{"top level only", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{}
			in := NewInbox([]string{dir}, []string{".txt"}, tt.recursive, up, WithDebounce(10*time.Millisecond))
			if err := in.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			in.SyncExistingFiles()
			waitFor(t, func() bool { return len(up.uploaded()) >= tt.want })
			in.Stop()
			if got := up.uploaded(); len(got) != tt.want {
				t.Errorf("uploaded %v, want %d files", got, tt.want)
			}
		})
	}
}

func TestInbox_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")

	in := NewInbox([]string{root}, []string{".txt"}, true, &fakeUploader{})
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
	if dirs := in.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestInbox_HandleNewDirectory_recursiveSubfolders(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	in := NewInbox([]string{dir}, []string{".txt"}, true, up, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		for _, n := range up.uploaded() {
			if n == "deep.txt" {
				return true
			}
		}
		return false
	})
}

func TestInbox_UploadErrorReported(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{err: errors.New("storage down")}
	errs := make(chan error, 1)
	in := NewInbox([]string{dir}, nil, false, up,
		WithDebounce(20*time.Millisecond),
		OnResult(func(r Result) {
			select {
			case errs <- r.Err:
			default:
			}
		}))
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	if err := writeFile(filepath.Join(dir, "a.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if err == nil || !strings.Contains(err.Error(), "storage down") {
			t.Errorf("err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no result reported")
	}
}

func TestInbox_StopIsIdempotent(t *testing.T) {
	in := NewInbox([]string{t.TempDir()}, nil, true, &fakeUploader{})
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	in.Stop()
	in.Stop()
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
