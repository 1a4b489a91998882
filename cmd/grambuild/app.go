package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/grambuild/buildinfo"
	"github.com/c360studio/grambuild/config"
	"github.com/c360studio/grambuild/grammar"
	"github.com/c360studio/grambuild/manifest"
	"github.com/c360studio/grambuild/metrics"
	"github.com/c360studio/grambuild/pipeline"
	"github.com/c360studio/grambuild/provenance"
	"github.com/c360studio/grambuild/transform"
	"github.com/c360studio/grambuild/watch"
)

// newCompiler builds the grammar compiler for a configuration. Tests replace it.
var newCompiler = func(cfg *config.Config, logger *slog.Logger) grammar.Compiler {
	return grammar.NewPeggyCompiler(cfg.Grammar.Command, cfg.Project.Root, logger)
}

// sourceExtensions are the non-grammar files whose changes trigger a rebuild.
var sourceExtensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".css", ".json"}

// App wires configuration, derivation and the bundler together.
type App struct {
	cfg      *config.Config
	env      map[string]string
	compiler grammar.Compiler
	registry *prometheus.Registry
	metrics  *metrics.Transform
	logger   *slog.Logger
}

// NewApp loads configuration starting from dir. configPath, when set, names
// an explicit config file.
func NewApp(configPath, dir string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loader := config.NewLoader(logger).WithDir(dir)
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	env, err := loader.Environment(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	return &App{
		cfg:      cfg,
		env:      env,
		compiler: newCompiler(cfg, logger),
		registry: registry,
		metrics:  metrics.NewTransform(registry),
		logger:   logger,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// plugin creates the grammar transform for rule.
func (a *App) plugin(rule transform.Rule) *transform.Plugin {
	opts := []transform.Option{
		transform.WithCompilerOptions(a.cfg.Grammar.Options),
		transform.WithMetrics(a.metrics),
		transform.WithLogger(a.logger),
	}
	if a.cfg.Grammar.Verify {
		opts = append(opts, transform.WithVerifier(grammar.NewVerifier()))
	}
	return transform.New(rule, a.compiler, opts...)
}

// Provenance resolves the version constant on its own.
func (a *App) Provenance(ctx context.Context) buildinfo.Constant {
	return provenance.NewResolver(provenance.Options{
		Dir:     a.cfg.Project.Root,
		Env:     a.env,
		DateVar: a.cfg.Provenance.DateVar,
		HashVar: a.cfg.Provenance.HashVar,
		Name:    a.cfg.Defines.Version,
		Logger:  a.logger,
	}).Resolve(ctx)
}

// Licenses renders the dependency attribution in format (html, markdown or json).
func (a *App) Licenses(format string) (string, error) {
	records, err := manifest.NewCollector(a.cfg.Project.Root, a.logger).Collect()
	if err != nil {
		return "", err
	}

	switch strings.ToLower(format) {
	case "", "html":
		return manifest.RenderHTML(records)
	case "markdown", "md":
		return manifest.RenderMarkdown(records)
	case "json":
		return manifest.RenderJSON(records)
	default:
		return "", fmt.Errorf("unknown format %q (want html, markdown or json)", format)
	}
}

// Assemble evaluates the constants and produces the bundler configuration.
func (a *App) Assemble(ctx context.Context) (*pipeline.Assembly, error) {
	consts, err := pipeline.NewEvaluator(a.cfg, a.env, a.logger).Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.Assemble(ctx, a.cfg, consts, a.plugin(a.cfg.Rule()))
}

// Build runs one build.
func (a *App) Build(ctx context.Context) (*pipeline.Report, error) {
	assembly, err := a.Assemble(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(a.logger).Run(ctx, assembly)
}

// Watch builds once and rebuilds on every source change until ctx is done.
// Constants are evaluated once; report receives every build's report.
func (a *App) Watch(ctx context.Context, report func(*pipeline.Report)) error {
	assembly, err := a.Assemble(ctx)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(a.logger)

	build := func(ctx context.Context) error {
		r, err := runner.Run(ctx, assembly)
		if r != nil && report != nil {
			report(r)
		}
		return err
	}
	if err := build(ctx); err != nil {
		a.logger.Warn("Initial build failed", "error", err)
	}

	rule := a.cfg.Rule()
	w, err := watch.New(watch.Config{
		Root: a.cfg.Project.Root,
		Match: func(rel string) bool {
			return rule.Matches(rel) || hasSourceExtension(rel)
		},
		Skip:   []string{filepath.Base(a.cfg.Path(a.cfg.Build.OutDir))},
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	return w.Run(ctx, func(ctx context.Context, changes []watch.Change) error {
		for _, c := range changes {
			a.logger.Debug("Source changed", "path", c.Path, "op", c.Operation)
		}
		return build(ctx)
	})
}

func hasSourceExtension(rel string) bool {
	ext := filepath.Ext(rel)
	for _, candidate := range sourceExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Compile compiles the grammar files named by patterns to standalone modules.
// Each output is written to outDir, or next to its grammar when outDir is
// empty, as <name>.js. The written paths are returned.
func (a *App) Compile(ctx context.Context, patterns []string, outDir string) ([]string, error) {
	paths, err := transform.ExpandPatterns(patterns)
	if err != nil {
		return nil, err
	}

	// Explicitly named files are always compiled.
	plugin := a.plugin(transform.Rule{Include: []string{"**"}})

	var written []string
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return written, fmt.Errorf("read grammar: %w", err)
		}
		res, err := plugin.Transform(ctx, string(content), path)
		if err != nil {
			return written, err
		}

		dest := outputPath(path, outDir)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return written, fmt.Errorf("create output directory: %w", err)
		}
		if err := os.WriteFile(dest, []byte(res.Code+"\n"), 0644); err != nil {
			return written, fmt.Errorf("write module: %w", err)
		}
		a.logger.Debug("Compiled grammar", "source", path, "output", dest)
		written = append(written, dest)
	}
	return written, nil
}

func outputPath(grammarPath, outDir string) string {
	name := strings.TrimSuffix(filepath.Base(grammarPath), filepath.Ext(grammarPath)) + ".js"
	if outDir == "" {
		return filepath.Join(filepath.Dir(grammarPath), name)
	}
	return filepath.Join(outDir, name)
}

// Grammars lists the grammar files the configured rule accepts.
func (a *App) Grammars() ([]string, error) {
	return transform.FindGrammars(a.cfg.Project.Root, a.cfg.Rule())
}

// WriteMetrics writes the transform metrics to path.
func (a *App) WriteMetrics(path string) error {
	return metrics.WriteTextfile(path, a.registry)
}
