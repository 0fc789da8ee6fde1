package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/models"
)

const analysisServiceName = "file analysis service"

// AnalysisClient triggers and polls analysis jobs.
type AnalysisClient struct {
	base
}

// NewAnalysisClient returns a client for the analysis API at baseURL.
func NewAnalysisClient(baseURL, prefix string, timeout time.Duration) *AnalysisClient {
	return &AnalysisClient{base: newBase(baseURL, prefix, timeout)}
}

// Trigger asks for fileID to be analyzed.
func (c *AnalysisClient) Trigger(ctx context.Context, fileID string) (*models.AnalysisTriggerResponse, error) {
	body, err := json.Marshal(models.AnalysisTriggerRequest{FileID: fileID})
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/analysis/analyze"), bytes.NewReader(body))
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, analysisServiceName)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, statusError(resp, analysisServiceName)
	}
	var out models.AnalysisTriggerResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result returns the analysis of fileID. While the job is Pending or
// Processing only FileID and Status are set. A failed analysis is an error.
func (c *AnalysisClient) Result(ctx context.Context, fileID string) (*models.AnalysisResultDTO, error) {
	resp, err := c.get(ctx, "/analysis/"+url.PathEscape(fileID))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var out models.AnalysisResultDTO
		if err := decodeJSON(resp, &out); err != nil {
			return nil, err
		}
		return &out, nil
	case http.StatusAccepted:
		var st models.AnalysisStatusDTO
		if err := decodeJSON(resp, &st); err != nil {
			return nil, err
		}
		return &models.AnalysisResultDTO{FileID: st.FileID, Status: st.Status}, nil
	case http.StatusInternalServerError:
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		if strings.HasPrefix(msg, models.AnalysisFailedPrefix) {
			return nil, &FailedError{FileID: fileID, Message: msg}
		}
		return nil, apperr.New(apperr.Unavailable, "error from %s: %d %s", analysisServiceName, resp.StatusCode, msg)
	default:
		return nil, statusError(resp, analysisServiceName)
	}
}

// FailedError is returned by Result when the analysis ended Failed, i.e. a 500
// whose message starts with models.AnalysisFailedPrefix. Its kind is Internal.
type FailedError struct {
	FileID  string
	Message string
}

func (e *FailedError) Error() string { return e.Message }

// Status returns the job status of fileID.
func (c *AnalysisClient) Status(ctx context.Context, fileID string) (*models.AnalysisStatusDTO, error) {
	resp, err := c.get(ctx, "/analysis/"+url.PathEscape(fileID)+"/status")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, analysisServiceName)
	}
	var out models.AnalysisStatusDTO
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AnalysisClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	return c.do(req, analysisServiceName)
}
