package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// pathFunc maps a gateway request to the upstream path.
type pathFunc func(r *http.Request) string

type gateway struct {
	storage  *url.URL
	analysis *url.URL
	logger   *zap.Logger
}

// NewGatewayRouter returns the client-facing API. It holds no state and
// forwards every call to the storage or analysis service.
func NewGatewayRouter(storageURL, analysisURL string, logger *zap.Logger) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storage, err := parseUpstream(storageURL)
	if err != nil {
		return nil, fmt.Errorf("storage url: %w", err)
	}
	analysis, err := parseUpstream(analysisURL)
	if err != nil {
		return nil, fmt.Errorf("analysis url: %w", err)
	}
	g := &gateway{storage: storage, analysis: analysis, logger: logger}

	upload := g.proxy(g.storage, "file storing service", fixed("/internal/files"))
	content := g.proxy(g.storage, "file storing service", func(r *http.Request) string {
		return "/internal/files/" + url.PathEscape(chi.URLParam(r, "id")) + "/content"
	})
	trigger := g.proxy(g.analysis, "file analysis service", fixed("/internal/analysis/analyze"))
	result := g.proxy(g.analysis, "file analysis service", func(r *http.Request) string {
		return "/internal/analysis/" + url.PathEscape(chi.URLParam(r, "fileId"))
	})
	status := g.proxy(g.analysis, "file analysis service", func(r *http.Request) string {
		return "/internal/analysis/" + url.PathEscape(chi.URLParam(r, "fileId")) + "/status"
	})

	r := newRouter()
	r.Post("/files", upload)
	r.Post("/files/upload", upload)
	r.Get("/files/{id}/content", content)
	r.Get("/files/{id}", content)
	r.Post("/analysis/analyze", trigger)
	r.Get("/analysis/{fileId}", result)
	r.Get("/analysis/{fileId}/status", status)
	return r, nil
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

func fixed(path string) pathFunc {
	return func(*http.Request) string { return path }
}

func (g *gateway) proxy(target *url.URL, service string, path pathFunc) http.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = strings.TrimRight(target.Path, "/") + path(pr.In)
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.Warn("Upstream request failed",
				zap.String("service", service),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			respondError(w, http.StatusServiceUnavailable,
				fmt.Sprintf("%s is unavailable or returned an error: %v", service, err))
		},
	}
	return rp.ServeHTTP
}
