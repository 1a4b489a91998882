package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report summarizes one build.
type Report struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Provenance  string        `json:"provenance"`
	Degraded    bool          `json:"provenance_degraded"`
	Attribution string        `json:"attribution"`
	Grammars    []string      `json:"grammars"`
	Outputs     []string      `json:"outputs"`
	Warnings    []string      `json:"warnings"`
	Errors      []string      `json:"errors"`
}

// Failed reports whether the build produced errors.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// WriteJSON writes the report to path, creating parent directories.
func (r *Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
