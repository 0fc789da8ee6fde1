package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/contentstore"
	"github.com/hyperjump/docstat/internal/models"
)

// DefaultMaxUploadBytes caps an upload body when no limit is configured.
const DefaultMaxUploadBytes = 64 << 20

type storageHandler struct {
	store     *contentstore.Service
	maxUpload int64
	logger    *zap.Logger
}

// NewStorageRouter returns the internal API of the file storing service.
func NewStorageRouter(store *contentstore.Service, maxUpload int64, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	h := &storageHandler{store: store, maxUpload: maxUpload, logger: logger}

	r := newRouter()
	r.Post("/internal/files", h.handleUpload)
	r.Get("/internal/files/{id}/content", h.handleContent)
	r.Get("/internal/stats", h.handleStats)
	return r
}

func (h *storageHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > h.maxUpload {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
			return
		}
		respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, h.logger, apperr.Wrap(apperr.Invalid, err, "failed to read uploaded file"))
		return
	}
	h.logger.Debug("upload request", zap.String("file_name", header.Filename), zap.Int("size", len(data)))

	res, err := h.store.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := models.FileUploadResponse{FileID: res.FileID, Status: res.Status}
	if res.Status == models.UploadStatusUploaded {
		w.Header().Set("Location", "/internal/files/"+res.FileID+"/content")
		respondJSON(w, http.StatusCreated, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *storageHandler) handleContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, data, err := h.store.Read(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *storageHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
