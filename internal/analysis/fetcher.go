package analysis

import (
	"context"

	"github.com/hyperjump/docstat/internal/contentstore"
)

// ContentFetcher returns the stored bytes of a file.
type ContentFetcher interface {
	FetchContent(ctx context.Context, fileID string) ([]byte, error)
}

// LocalFetcher reads content from a ContentStore in the same process.
type LocalFetcher struct {
	Store *contentstore.Service
}

func (f LocalFetcher) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	_, data, err := f.Store.Read(ctx, fileID)
	return data, err
}
