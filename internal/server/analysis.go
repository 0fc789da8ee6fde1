package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/analysis"
	"github.com/hyperjump/docstat/internal/models"
)

type analysisHandler struct {
	orch   *analysis.Orchestrator
	logger *zap.Logger
}

// NewAnalysisRouter returns the internal API of the file analysis service.
func NewAnalysisRouter(orch *analysis.Orchestrator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &analysisHandler{orch: orch, logger: logger}

	r := newRouter()
	r.Post("/internal/analysis/analyze", h.handleAnalyze)
	r.Get("/internal/analysis/{fileId}", h.handleResult)
	r.Get("/internal/analysis/{fileId}/status", h.handleStatus)
	r.Get("/internal/stats", h.handleStats)
	return r
}

func (h *analysisHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: fileId is required")
		return
	}
	status, created, err := h.orch.Trigger(r.Context(), req.FileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := models.AnalysisTriggerResponse{FileID: req.FileID, Status: status}
	if created {
		resp.Message = fmt.Sprintf("Analysis triggered for file %s.", req.FileID)
		respondJSON(w, http.StatusAccepted, resp)
		return
	}
	resp.Message = fmt.Sprintf("Analysis already exists for file %s. Status: %s.", req.FileID, status)
	respondJSON(w, http.StatusOK, resp)
}

func (h *analysisHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	res, err := h.orch.GetResult(r.Context(), fileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	switch res.Kind {
	case analysis.ResultNotFound:
		respondError(w, http.StatusNotFound, fmt.Sprintf("analysis result not found for file %s", fileID))
	case analysis.ResultInProgress:
		respondJSON(w, http.StatusAccepted, models.AnalysisStatusDTO{FileID: fileID, Status: res.Job.Status})
	case analysis.ResultFailed:
		respondError(w, http.StatusInternalServerError,
			fmt.Sprintf(models.AnalysisFailedPrefix+"%s: %s", fileID, res.Job.ErrorMessage))
	default:
		respondJSON(w, http.StatusOK, models.ResultFromJob(res.Job))
	}
}

func (h *analysisHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	job, err := h.orch.GetStatus(r.Context(), fileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, models.AnalysisStatusDTO{FileID: job.FileID, Status: job.Status})
}

func (h *analysisHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
