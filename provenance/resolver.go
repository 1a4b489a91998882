// Package provenance derives the build identity string "<date>/<revision>".
//
// Precomputed values in the environment win, then git is asked, and when
// neither is available the sentinel "unknown" is used with a warning. The
// resolver never fails.
package provenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/c360studio/grambuild/buildinfo"
)

const (
	// Unknown is the sentinel used when no provenance can be derived.
	Unknown = "unknown"

	// DefaultDateVar holds a precomputed commit date.
	DefaultDateVar = "GIT_COMMIT_DATE"
	// DefaultHashVar holds a precomputed commit identifier.
	DefaultHashVar = "GIT_COMMIT_HASH"

	// ConstantName is the identifier the provenance string replaces.
	ConstantName = "__VERSION__"
)

// Options configures a Resolver.
type Options struct {
	// Dir is the working tree git is run in. Empty means the process cwd.
	Dir string
	// Env is the environment consulted for overrides. Nil means no overrides.
	Env map[string]string
	// DateVar and HashVar name the override variables.
	DateVar string
	HashVar string
	// Name is the constant name. Defaults to ConstantName.
	Name string
	// Runner launches git. Defaults to ExecRunner.
	Runner Runner
	Logger *slog.Logger
}

// Resolver computes the provenance constant.
type Resolver struct {
	dir     string
	env     map[string]string
	dateVar string
	hashVar string
	name    string
	runner  Runner
	logger  *slog.Logger
}

// NewResolver creates a resolver, filling defaults for unset options.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		dir:     opts.Dir,
		env:     opts.Env,
		dateVar: opts.DateVar,
		hashVar: opts.HashVar,
		name:    opts.Name,
		runner:  opts.Runner,
		logger:  opts.Logger,
	}
	if r.dateVar == "" {
		r.dateVar = DefaultDateVar
	}
	if r.hashVar == "" {
		r.hashVar = DefaultHashVar
	}
	if r.name == "" {
		r.name = ConstantName
	}
	if r.runner == nil {
		r.runner = ExecRunner{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the provenance constant. It does not return an error:
// when git cannot answer, the constant is degraded to Unknown.
func (r *Resolver) Resolve(ctx context.Context) buildinfo.Constant {
	if date, hash, ok := r.fromEnv(); ok {
		r.logger.Debug("Provenance from environment",
			"date_var", r.dateVar,
			"hash_var", r.hashVar)
		return buildinfo.OK(r.name, Format(date, hash))
	}

	value, err := r.fromGit(ctx)
	if err != nil {
		warning := r.remediation(err)
		r.logger.Warn("Could not determine build provenance",
			"error", err.Error(),
			"fallback", Unknown,
			"hint", fmt.Sprintf("set %s and %s", r.dateVar, r.hashVar))
		return buildinfo.Degraded(r.name, Unknown, warning)
	}

	r.logger.Debug("Provenance from git", "value", value)
	return buildinfo.OK(r.name, value)
}

// fromEnv returns the override pair when both variables are non-empty.
// Values are used verbatim.
func (r *Resolver) fromEnv() (string, string, bool) {
	date := r.env[r.dateVar]
	hash := r.env[r.hashVar]
	if date == "" || hash == "" {
		return "", "", false
	}
	return date, hash, true
}

func (r *Resolver) fromGit(ctx context.Context) (string, error) {
	date, err := runGit(ctx, r.runner, r.dir, commitDateArgs...)
	if err != nil {
		return "", fmt.Errorf("read commit date: %w", err)
	}
	hash, err := runGit(ctx, r.runner, r.dir, describeArgs...)
	if err != nil {
		return "", fmt.Errorf("describe commit: %w", err)
	}
	return Format(date, hash), nil
}

func (r *Resolver) remediation(cause error) string {
	return fmt.Sprintf(
		"could not determine build provenance (%v); using %q. "+
			"Run the build inside a git checkout with at least one commit, or set %s (YYYY-MM-DD) and %s (commit identifier) in the environment or .env file.",
		cause, Unknown, r.dateVar, r.hashVar)
}

// Format joins a date and a revision identifier.
func Format(date, hash string) string {
	return date + "/" + hash
}

// Environ returns the process environment as a map. Later duplicates win.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
