package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
)

// ErrBuildFailed is returned when the bundler reports at least one error.
var ErrBuildFailed = errors.New("build failed")

// Runner executes assembled builds.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a build runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run executes one build and summarizes it. The report is returned even
// when the build fails; the error is then ErrBuildFailed.
func (r *Runner) Run(ctx context.Context, a *Assembly) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := api.Build(a.Options)

	report := r.summarize(a, result, start)
	if len(report.Errors) > 0 {
		return report, ErrBuildFailed
	}
	return report, nil
}

// NewReport starts a report for the assembly's constants.
func NewReport(a *Assembly) *Report {
	report := &Report{
		ID:          uuid.New().String(),
		StartedAt:   time.Now().UTC(),
		Provenance:  a.Constants.Version.Value,
		Degraded:    a.Constants.Version.IsDegraded(),
		Attribution: a.Constants.Licenses.Value,
	}
	report.Warnings = append(report.Warnings, a.Constants.Warnings()...)
	return report
}

func (r *Runner) summarize(a *Assembly, result api.BuildResult, start time.Time) *Report {
	report := NewReport(a)
	report.StartedAt = start.UTC()
	report.Duration = time.Since(start)

	for _, msg := range result.Warnings {
		text := formatMessage(msg)
		r.logger.Warn("Build warning", "message", text)
		report.Warnings = append(report.Warnings, text)
	}
	for _, msg := range result.Errors {
		text := formatMessage(msg)
		r.logger.Error("Build error", "message", text)
		report.Errors = append(report.Errors, text)
	}

	if result.Metafile != "" {
		grammars, outputs, err := readMetafile(result.Metafile, a)
		if err != nil {
			r.logger.Warn("Could not read build metafile", "error", err)
		} else {
			report.Grammars = grammars
			report.Outputs = outputs
		}
	}

	r.logger.Info("Build finished",
		"id", report.ID,
		"grammars", len(report.Grammars),
		"outputs", len(report.Outputs),
		"warnings", len(report.Warnings),
		"errors", len(report.Errors),
		"duration", report.Duration)

	return report
}

// formatMessage renders a bundler message as "file:line:col: text".
func formatMessage(msg api.Message) string {
	text := msg.Text
	if msg.PluginName != "" {
		text = "[" + msg.PluginName + "] " + text
	}
	loc := msg.Location
	if loc == nil || loc.File == "" {
		return text
	}
	if loc.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, text)
	}
	return fmt.Sprintf("%s: %s", loc.File, text)
}

type metafile struct {
	Inputs  map[string]json.RawMessage `json:"inputs"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// readMetafile returns the grammar inputs and the output files of a build,
// both sorted.
func readMetafile(data string, a *Assembly) ([]string, []string, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, nil, fmt.Errorf("parse metafile: %w", err)
	}

	var grammars []string
	for input := range meta.Inputs {
		if a.Rule.Matches(input) {
			grammars = append(grammars, input)
		}
	}
	outputs := make([]string, 0, len(meta.Outputs))
	for output := range meta.Outputs {
		outputs = append(outputs, output)
	}

	sort.Strings(grammars)
	sort.Strings(outputs)
	return grammars, outputs, nil
}
