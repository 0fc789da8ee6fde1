package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/models"
)

const storageServiceName = "file storing service"

// StorageClient uploads and fetches files.
type StorageClient struct {
	base
}

// NewStorageClient returns a client for the storage API at baseURL.
// prefix is InternalPrefix for the service or GatewayPrefix for the gateway.
func NewStorageClient(baseURL, prefix string, timeout time.Duration) *StorageClient {
	return &StorageClient{base: newBase(baseURL, prefix, timeout)}
}

// Upload sends content as the multipart field "file".
func (c *StorageClient) Upload(ctx context.Context, fileName string, content io.Reader) (*models.FileUploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "read upload content")
	}
	if err := mw.Close(); err != nil {
		return nil, wrapRequestErr(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/files"), &body)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, storageServiceName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp, storageServiceName)
	}
	var out models.FileUploadResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchContent returns the stored bytes of fileID.
func (c *StorageClient) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/files/"+url.PathEscape(fileID)+"/content"), nil)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	resp, err := c.do(req, storageServiceName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, storageServiceName)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "read file content")
	}
	return data, nil
}
