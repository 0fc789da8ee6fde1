// Package cli formats docstat command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/docstat/internal/models"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" or "json" (case-insensitive); empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(OutputText):
		return OutputText, nil
	case string(OutputJSON):
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteUpload prints the outcome of an upload.
func WriteUpload(w io.Writer, name string, resp *models.FileUploadResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	verb := "Uploaded"
	if resp.Status == models.UploadStatusDuplicateFound {
		verb = "Already stored"
	}
	_, err := fmt.Fprintf(w, "%s %s\nFile ID: %s\n", verb, name, resp.FileID)
	return err
}

// WriteStatus prints a job status.
func WriteStatus(w io.Writer, status *models.AnalysisStatusDTO, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	_, err := fmt.Fprintf(w, "File ID: %s\nStatus:  %s\n", status.FileID, status.Status)
	return err
}

// WriteResult prints an analysis result. Jobs that have not completed
// print only their status.
func WriteResult(w io.Writer, result *models.AnalysisResultDTO, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "File ID: %s\nStatus:  %s\n", result.FileID, result.Status)
	if result.Status != models.JobStatusCompleted {
		if result.ErrorMessage != "" {
			fmt.Fprintf(w, "Error:   %s\n", result.ErrorMessage)
		}
		return nil
	}
	fmt.Fprintf(w, "\nParagraphs: %d\nWords:      %d\nSymbols:    %d\n",
		result.ParagraphCount, result.WordCount, result.SymbolCount)
	if len(result.WordCloudData) == 0 {
		return nil
	}
	width := 0
	for _, wf := range result.WordCloudData {
		if n := len([]rune(wf.Word)); n > width {
			width = n
		}
	}
	fmt.Fprintln(w, "\nTop words:")
	for i, wf := range result.WordCloudData {
		fmt.Fprintf(w, "%3d. %-*s %d\n", i+1, width, wf.Word, wf.Count)
	}
	return nil
}
