package models

// FileUploadResponse is returned by the upload endpoints.
type FileUploadResponse struct {
	FileID string       `json:"fileId"`
	Status UploadStatus `json:"status"`
}

// AnalysisTriggerRequest asks the analysis service to analyze a file.
type AnalysisTriggerRequest struct {
	FileID string `json:"fileId"`
}

// AnalysisTriggerResponse acknowledges a trigger with the job's current status.
type AnalysisTriggerResponse struct {
	FileID  string    `json:"fileId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// AnalysisStatusDTO is the status-only view of a job.
type AnalysisStatusDTO struct {
	FileID string    `json:"fileId"`
	Status JobStatus `json:"status"`
}

// AnalysisResultDTO is the completed view of a job.
type AnalysisResultDTO struct {
	FileID         string    `json:"fileId"`
	ParagraphCount int       `json:"paragraphCount"`
	WordCount      int       `json:"wordCount"`
	SymbolCount    int       `json:"symbolCount"`
	WordCloudData  WordCloud `json:"wordCloudData"`
	Status         JobStatus `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

// AnalysisFailedPrefix starts the error message returned for a job that ended Failed.
// Other 500 responses are server faults, not analysis outcomes.
const AnalysisFailedPrefix = "analysis failed for file "

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ResultFromJob builds the completed DTO for job.
func ResultFromJob(job *AnalysisJob) *AnalysisResultDTO {
	cloud := job.WordCloud
	if cloud == nil {
		cloud = WordCloud{}
	}
	return &AnalysisResultDTO{
		FileID:         job.FileID,
		ParagraphCount: job.ParagraphCount,
		WordCount:      job.WordCount,
		SymbolCount:    job.SymbolCount,
		WordCloudData:  cloud,
		Status:         job.Status,
		ErrorMessage:   job.ErrorMessage,
	}
}
