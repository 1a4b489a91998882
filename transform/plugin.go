// Package transform rewrites grammar source assets into generated parser
// modules while the bundler walks the module graph.
//
// The plugin is a pure function of (content, identifier, rule): it declines
// assets the Rule does not accept and, for accepted ones, returns the
// compiler's expression wrapped as the module's default export. It keeps no
// state between invocations and is safe for concurrent use.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/c360studio/grambuild/grammar"
	"github.com/c360studio/grambuild/metrics"
)

// PluginName is the name the plugin registers under with the bundler.
const PluginName = "peggy"

// SourceMap is the source map handed back with a result. The plugin never
// produces mappings.
type SourceMap struct {
	Mappings string `json:"mappings"`
}

// Result is the rewritten asset.
type Result struct {
	Code string    `json:"code"`
	Map  SourceMap `json:"map"`
}

// CompileError attributes a compiler failure to the asset that caused it.
type CompileError struct {
	Path string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Plugin is the grammar transform.
type Plugin struct {
	rule     Rule
	compiler grammar.Compiler
	extra    map[string]any
	verifier *grammar.Verifier
	metrics  *metrics.Transform
	logger   *slog.Logger
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithCompilerOptions sets options passed to the compiler on every call.
func WithCompilerOptions(opts map[string]any) Option {
	return func(p *Plugin) {
		p.extra = maps.Clone(opts)
	}
}

// WithVerifier checks every generated module before returning it.
func WithVerifier(v *grammar.Verifier) Option {
	return func(p *Plugin) {
		p.verifier = v
	}
}

// WithMetrics records invocation outcomes.
func WithMetrics(m *metrics.Transform) Option {
	return func(p *Plugin) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a plugin that accepts assets matched by rule and compiles them
// with compiler.
func New(rule Rule, compiler grammar.Compiler, opts ...Option) *Plugin {
	p := &Plugin{
		rule:     rule,
		compiler: compiler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns PluginName.
func (p *Plugin) Name() string {
	return PluginName
}

// Rule returns the plugin's rule.
func (p *Plugin) Rule() Rule {
	return p.rule
}

// Matches reports whether the plugin accepts id.
func (p *Plugin) Matches(id string) bool {
	return p.rule.Matches(id)
}

// Transform rewrites content. It returns nil, nil when id is not accepted.
// Compiler failures are returned as *CompileError; there is no fallback.
func (p *Plugin) Transform(ctx context.Context, content, id string) (*Result, error) {
	if !p.rule.Matches(id) {
		p.metrics.Outcome(metrics.OutcomeDeclined)
		return nil, nil
	}
	return p.compile(ctx, content, id)
}

func (p *Plugin) compile(ctx context.Context, content, id string) (*Result, error) {
	start := time.Now()
	expr, err := p.compiler.Compile(ctx, content, grammar.Options{
		Output: grammar.OutputSource,
		Extra:  p.extra,
	})
	if err != nil {
		p.metrics.Outcome(metrics.OutcomeFailed)
		return nil, &CompileError{Path: id, Err: err}
	}

	code := "export default " + expr + ";"

	if p.verifier != nil {
		if err := p.verifier.Verify(ctx, code); err != nil {
			p.metrics.Outcome(metrics.OutcomeFailed)
			return nil, &CompileError{Path: id, Err: err}
		}
	}

	p.metrics.Outcome(metrics.OutcomeAccepted)
	p.metrics.Compiled(time.Since(start), len(code))

	p.logger.Debug("Transformed grammar",
		"path", id,
		"bytes", len(code))

	return &Result{Code: code, Map: SourceMap{Mappings: ""}}, nil
}
