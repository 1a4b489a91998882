package provenance

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// execCommand allows tests to substitute the process launcher.
var execCommand = exec.CommandContext

// Runner runs an external command in dir and returns its standard output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, dir, name string, args ...string) (string, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return f(ctx, dir, name, args...)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run executes name with args in dir. Standard error is folded into the
// returned error so the operator sees why git refused.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := execCommand(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(output), nil
}

var (
	// commitDateArgs prints the last commit date as YYYY-MM-DD.
	commitDateArgs = []string{"log", "-1", "--format=%cd", "--date=short"}
	// describeArgs prints the nearest tag description, or the abbreviated
	// object name when no tag is reachable.
	describeArgs = []string{"describe", "--always"}
)

// runGit runs one git subcommand and returns its trimmed output.
// Empty output counts as failure.
func runGit(ctx context.Context, runner Runner, dir string, args ...string) (string, error) {
	output, err := runner.Run(ctx, dir, "git", args...)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(output)
	if value == "" {
		return "", fmt.Errorf("git %s: empty output", strings.Join(args, " "))
	}
	return value, nil
}
