// Package client calls the storage and analysis services over HTTP.
package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/models"
)

// Path prefixes for the two API surfaces.
const (
	// InternalPrefix addresses a service directly.
	InternalPrefix = "/internal"
	// GatewayPrefix addresses the client-facing gateway.
	GatewayPrefix = ""
)

// DefaultTimeout is used when no timeout is configured.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4 << 10

type base struct {
	baseURL string
	prefix  string
	http    *http.Client
}

func newBase(baseURL, prefix string, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return base{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
		http:    &http.Client{Timeout: timeout},
	}
}

func (b base) url(path string) string {
	return b.baseURL + b.prefix + path
}

func (b base) do(req *http.Request, service string) (*http.Response, error) {
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "%s is unavailable", service)
	}
	return resp, nil
}

// statusError turns a non-success response into an apperr error and closes the body.
func statusError(resp *http.Response, service string) error {
	defer resp.Body.Close()
	msg := readErrorMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return apperr.New(apperr.Invalid, "%s", msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.NotFound, "%s", msg)
	case resp.StatusCode >= 500:
		return apperr.New(apperr.Unavailable, "error from %s: %d %s", service, resp.StatusCode, msg)
	default:
		return apperr.New(apperr.Internal, "unexpected status from %s: %d %s", service, resp.StatusCode, msg)
	}
}

func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return ""
	}
	var er models.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(body))
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Unavailable, "empty response body")
		}
		return apperr.Wrap(apperr.Unavailable, err, "decode response")
	}
	return nil
}

func wrapRequestErr(err error) error {
	return apperr.Wrap(apperr.Internal, err, "build request")
}
