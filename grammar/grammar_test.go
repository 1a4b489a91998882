package grammar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalGrammar = `start = "hello"`

func TestPeggyCompiler_Args(t *testing.T) {
	c := NewPeggyCompiler([]string{"node", "peggy.js"}, "", nil)

	t.Run("default output mode", func(t *testing.T) {
		args, err := c.Args(Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"peggy.js", "--format", "bare", "--output", "-", "-"}, args)
	})

	t.Run("extra options passed verbatim", func(t *testing.T) {
		args, err := c.Args(Options{
			Output: OutputSource,
			Extra:  map[string]any{"allowedStartRules": []string{"start"}, "cache": true},
		})
		require.NoError(t, err)
		require.Contains(t, args, "--extra-options")
		assert.Contains(t, args, `{"allowedStartRules":["start"],"cache":true}`)
		assert.Equal(t, "-", args[len(args)-1])
	})

	t.Run("unsupported output mode", func(t *testing.T) {
		_, err := c.Args(Options{Output: "parser"})
		require.Error(t, err)
	})
}

func TestPeggyCompiler_DefaultCommand(t *testing.T) {
	c := NewPeggyCompiler(nil, "", nil)
	args, err := c.Args(Options{})
	require.NoError(t, err)
	assert.Equal(t, "--no-install", args[0])
	assert.Equal(t, "peggy", args[1])
}

func TestPeggyCompiler_Compile(t *testing.T) {
	execCommand = fakeExecCommand
	defer func() { execCommand = exec.CommandContext }()

	c := NewPeggyCompiler([]string{"peggy"}, "", nil)

	t.Run("valid grammar", func(t *testing.T) {
		expr, err := c.Compile(context.Background(), minimalGrammar, Options{Output: OutputSource})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(expr, "(function()"))
		assert.False(t, strings.HasSuffix(expr, ";"))
	})

	t.Run("grammar syntax error", func(t *testing.T) {
		_, err := c.Compile(context.Background(), `start = "unterminated`, Options{Output: OutputSource})
		require.Error(t, err)

		var syntaxErr *SyntaxError
		require.True(t, errors.As(err, &syntaxErr))
		assert.Contains(t, syntaxErr.Diagnostic, "Expected")
	})
}

func TestPeggyCompiler_MissingBinary(t *testing.T) {
	c := NewPeggyCompiler([]string{"grambuild-no-such-peggy-binary"}, "", nil)
	_, err := c.Compile(context.Background(), minimalGrammar, Options{})
	require.Error(t, err)

	var syntaxErr *SyntaxError
	assert.False(t, errors.As(err, &syntaxErr), "start failure is not a grammar error")
}

func TestPeggyCompiler_RealPeggy(t *testing.T) {
	if _, err := exec.LookPath("peggy"); err != nil {
		t.Skip("peggy not installed")
	}

	c := NewPeggyCompiler([]string{"peggy"}, "", nil)
	expr, err := c.Compile(context.Background(), minimalGrammar, Options{Output: OutputSource})
	require.NoError(t, err)

	code := "export default " + expr + ";"
	require.NoError(t, NewVerifier().Verify(context.Background(), code))

	_, err = c.Compile(context.Background(), `start = `, Options{Output: OutputSource})
	require.Error(t, err)
}

func TestVerifier(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	t.Run("default exported parser", func(t *testing.T) {
		code := `export default (function() { function parse(input) { return input; } return { parse: parse }; })();`
		assert.NoError(t, v.Verify(ctx, code))
	})

	t.Run("syntax error", func(t *testing.T) {
		err := v.Verify(ctx, `export default (function() { return { parse: ; })();`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "syntax errors")
	})

	t.Run("no default export", func(t *testing.T) {
		err := v.Verify(ctx, `export const parser = {};`)
		assert.ErrorIs(t, err, ErrNoDefaultExport)
	})
}

func TestCompilerFunc(t *testing.T) {
	var got Options
	c := CompilerFunc(func(_ context.Context, source string, opts Options) (string, error) {
		got = opts
		return "{}", nil
	})

	out, err := c.Compile(context.Background(), "x", Options{Output: OutputSource})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, OutputSource, got.Output)
}

func fakeExecCommand(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess stands in for the peggy CLI: unbalanced quotes are a
// grammar error, anything else compiles to a small parser expression.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		os.Exit(3)
	}
	if strings.Count(string(input), `"`)%2 != 0 {
		fmt.Fprintln(os.Stderr, `error: Expected "\"" but end of input found.`)
		os.Exit(1)
	}

	fmt.Println(`(function() { "use strict"; function peg$parse(input) { return input; } return { parse: peg$parse }; })();`)
	os.Exit(0)
}
