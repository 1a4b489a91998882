package grammar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultCommand runs the peggy CLI from the project's installed packages.
var DefaultCommand = []string{"npx", "--no-install", "peggy"}

// execCommand allows tests to substitute the process launcher.
var execCommand = exec.CommandContext

// PeggyCompiler compiles grammars by running the peggy CLI with the grammar
// on stdin and the generated parser on stdout.
type PeggyCompiler struct {
	command []string
	dir     string
	logger  *slog.Logger
}

// NewPeggyCompiler creates a compiler that runs command (program and leading
// arguments). An empty command uses DefaultCommand.
func NewPeggyCompiler(command []string, dir string, logger *slog.Logger) *PeggyCompiler {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PeggyCompiler{
		command: append([]string(nil), command...),
		dir:     dir,
		logger:  logger,
	}
}

// Args returns the full argument list for one compilation, excluding the
// program name.
func (c *PeggyCompiler) Args(opts Options) ([]string, error) {
	if opts.Output != "" && opts.Output != OutputSource {
		return nil, fmt.Errorf("unsupported output mode %q", opts.Output)
	}

	args := append([]string(nil), c.command[1:]...)
	args = append(args, "--format", "bare", "--output", "-")

	if len(opts.Extra) > 0 {
		extra, err := json.Marshal(opts.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode compiler options: %w", err)
		}
		args = append(args, "--extra-options", string(extra))
	}

	return append(args, "-"), nil
}

// Compile runs peggy on source. A non-zero exit is reported as *SyntaxError
// carrying peggy's diagnostic; failure to start peggy is returned as is.
func (c *PeggyCompiler) Compile(ctx context.Context, source string, opts Options) (string, error) {
	args, err := c.Args(opts)
	if err != nil {
		return "", err
	}

	cmd := execCommand(ctx, c.command[0], args...)
	cmd.Dir = c.dir
	cmd.Stdin = strings.NewReader(source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &SyntaxError{Diagnostic: strings.TrimSpace(stderr.String()), Err: err}
		}
		return "", fmt.Errorf("run %s: %w", c.command[0], err)
	}

	expr := normalizeExpression(stdout.String())
	if expr == "" {
		return "", fmt.Errorf("%s produced no output", c.command[0])
	}

	c.logger.Debug("Compiled grammar",
		"bytes_in", len(source),
		"bytes_out", len(expr))

	return expr, nil
}
