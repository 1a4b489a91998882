package provenance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var provenancePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}/\S+$`)

// countingRunner records invocations and answers from a table keyed by the
// first git argument.
type countingRunner struct {
	calls   int
	outputs map[string]string
	err     error
}

func (r *countingRunner) Run(_ context.Context, _, name string, args ...string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	if name != "git" || len(args) == 0 {
		return "", fmt.Errorf("unexpected command %s %v", name, args)
	}
	return r.outputs[args[0]], nil
}

func TestResolve_EnvOverride(t *testing.T) {
	tests := []struct {
		date string
		hash string
	}{
		{"2024-01-15", "abc1234"},
		{"2023-12-31", "v2.0.0-4-gdeadbee"},
		{"1999-01-01", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.hash, func(t *testing.T) {
			runner := &countingRunner{}
			r := NewResolver(Options{
				Env:    map[string]string{DefaultDateVar: tt.date, DefaultHashVar: tt.hash},
				Runner: runner,
			})

			got := r.Resolve(context.Background())
			assert.Equal(t, tt.date+"/"+tt.hash, got.Value)
			assert.False(t, got.IsDegraded())
			assert.Equal(t, ConstantName, got.Name)
			assert.Zero(t, runner.calls, "override must not invoke git")
		})
	}
}

func TestResolve_PartialOverrideUsesGit(t *testing.T) {
	runner := &countingRunner{outputs: map[string]string{
		"log":      "2024-02-02\n",
		"describe": "v1.0.0\n",
	}}
	r := NewResolver(Options{
		Env:    map[string]string{DefaultDateVar: "2020-01-01", DefaultHashVar: ""},
		Runner: runner,
	})

	got := r.Resolve(context.Background())
	assert.Equal(t, "2024-02-02/v1.0.0", got.Value)
	assert.Equal(t, 2, runner.calls)
}

func TestResolve_EnvOverrideIsVerbatim(t *testing.T) {
	tests := []struct {
		name string
		date string
		hash string
		want string
	}{
		{"padded", " 2024-01-15 ", "abc1234\n", " 2024-01-15 /abc1234\n"},
		{"whitespace hash", "2024-01-15", " ", "2024-01-15/ "},
		{"whitespace both", "\t", " ", "\t/ "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &countingRunner{}
			r := NewResolver(Options{
				Env:    map[string]string{DefaultDateVar: tt.date, DefaultHashVar: tt.hash},
				Runner: runner,
			})

			got := r.Resolve(context.Background())
			assert.Equal(t, tt.want, got.Value)
			assert.False(t, got.IsDegraded())
			assert.Zero(t, runner.calls, "non-empty override must not invoke git")
		})
	}
}

func TestResolve_CustomVariableNames(t *testing.T) {
	runner := &countingRunner{}
	r := NewResolver(Options{
		Env:     map[string]string{"CI_DATE": "2024-05-05", "CI_SHA": "f00"},
		DateVar: "CI_DATE",
		HashVar: "CI_SHA",
		Runner:  runner,
	})

	assert.Equal(t, "2024-05-05/f00", r.Resolve(context.Background()).Value)
	assert.Zero(t, runner.calls)
}

func TestResolve_GitSuccessTrimsWhitespace(t *testing.T) {
	runner := &countingRunner{outputs: map[string]string{
		"log":      "  2024-03-05 \n",
		"describe": "\tv1.2-3-gabc123 \n",
	}}
	r := NewResolver(Options{Runner: runner})

	got := r.Resolve(context.Background())
	assert.Equal(t, "2024-03-05/v1.2-3-gabc123", got.Value)
	assert.Regexp(t, provenancePattern, got.Value)
	assert.False(t, got.IsDegraded())
}

func TestResolve_GitFailureDegrades(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	runner := &countingRunner{err: errors.New("exec: \"git\": executable file not found in $PATH")}
	r := NewResolver(Options{Runner: runner, Logger: logger})

	got := r.Resolve(context.Background())
	assert.Equal(t, Unknown, got.Value)
	assert.True(t, got.IsDegraded())
	assert.Contains(t, got.Warning, DefaultDateVar)
	assert.Contains(t, got.Warning, DefaultHashVar)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Equal(t, 1, runner.calls, "describe is skipped once the date lookup fails")
}

func TestResolve_EmptyGitOutputDegrades(t *testing.T) {
	runner := &countingRunner{outputs: map[string]string{
		"log":      "\n",
		"describe": "abc\n",
	}}
	r := NewResolver(Options{Runner: runner})

	got := r.Resolve(context.Background())
	assert.Equal(t, Unknown, got.Value)
	assert.True(t, got.IsDegraded())
}

func TestExecRunner_UsesExecCommand(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() { execCommand = exec.CommandContext }()

	r := NewResolver(Options{Runner: ExecRunner{}})
	got := r.Resolve(context.Background())
	assert.Equal(t, "2024-01-12/v0.3.1-2-g8f3a21a", got.Value)
}

func TestExecRunner_NotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	r := NewResolver(Options{Dir: dir})

	got := r.Resolve(context.Background())
	assert.Equal(t, Unknown, got.Value)
	assert.True(t, got.IsDegraded())
}

func TestExecRunner_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	runGitCmd(t, dir, "init")
	runGitCmd(t, dir, "config", "user.email", "test@example.com")
	runGitCmd(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grammar.peggy"), []byte("start = \"a\"\n"), 0644))
	runGitCmd(t, dir, "add", ".")
	runGitCmd(t, dir, "commit", "-m", "initial")

	got := NewResolver(Options{Dir: dir}).Resolve(context.Background())
	require.False(t, got.IsDegraded(), got.Warning)
	assert.Regexp(t, provenancePattern, got.Value)
	assert.Equal(t, strings.TrimSpace(got.Value), got.Value)
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// fakeExecCommand re-executes the test binary as a stand-in for git.
func fakeExecCommand(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		os.Exit(2)
	}

	switch args[2] {
	case "log":
		fmt.Println("2024-01-12")
	case "describe":
		fmt.Println("v0.3.1-2-g8f3a21a")
	default:
		fmt.Fprintf(os.Stderr, "unexpected git subcommand %q\n", args[2])
		os.Exit(1)
	}
	os.Exit(0)
}
