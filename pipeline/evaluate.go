// Package pipeline evaluates the build configuration and runs the bundler.
//
// Evaluation happens once per build: the provenance constant is resolved
// (never failing, possibly degraded), then the attribution constant is
// collected (failing the whole evaluation on any manifest problem). The
// results are merged with the grammar transform into esbuild options.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360studio/grambuild/buildinfo"
	"github.com/c360studio/grambuild/config"
	"github.com/c360studio/grambuild/manifest"
	"github.com/c360studio/grambuild/provenance"
)

// Evaluator derives the build constants for a configuration.
type Evaluator struct {
	cfg    *config.Config
	env    map[string]string
	runner provenance.Runner
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. env is consulted for provenance
// overrides; pass the result of config.Loader.Environment.
func NewEvaluator(cfg *config.Config, env map[string]string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, env: env, logger: logger}
}

// WithRunner replaces the git runner.
func (e *Evaluator) WithRunner(r provenance.Runner) *Evaluator {
	e.runner = r
	return e
}

// Evaluate resolves both constants. A degraded provenance is not an error;
// a manifest failure is returned as *buildinfo.FatalError.
func (e *Evaluator) Evaluate(ctx context.Context) (buildinfo.Constants, error) {
	version := provenance.NewResolver(provenance.Options{
		Dir:     e.cfg.Project.Root,
		Env:     e.env,
		DateVar: e.cfg.Provenance.DateVar,
		HashVar: e.cfg.Provenance.HashVar,
		Name:    e.cfg.Defines.Version,
		Runner:  e.runner,
		Logger:  e.logger,
	}).Resolve(ctx)

	licenses, err := manifest.NewCollector(e.cfg.Project.Root, e.logger).
		WithName(e.cfg.Defines.Licenses).
		Attribution()
	if err != nil {
		e.logger.Error("Dependency attribution failed", "error", err)
		return buildinfo.Constants{}, err
	}

	e.logger.Info("Evaluated build constants",
		"version", version.Value,
		"version_status", version.Status.String(),
		"licenses_bytes", len(licenses.Value))

	return buildinfo.Constants{Version: version, Licenses: licenses}, nil
}
