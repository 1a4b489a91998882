// Package grammar is the boundary to the external grammar-to-parser compiler.
//
// The compiler is a black box: grammar text goes in, a JavaScript expression
// evaluating to the generated parser comes out. This package defines that
// contract, a peggy CLI implementation of it, and a verifier for the modules
// built from its output.
package grammar

import (
	"context"
	"fmt"
	"strings"
)

// OutputSource asks the compiler for loadable source text.
const OutputSource = "source"

// Options is passed to the compiler on every call.
type Options struct {
	// Output is the compiler output mode. Only OutputSource is supported.
	Output string
	// Extra holds caller-supplied compiler options passed through verbatim.
	Extra map[string]any
}

// Compiler turns grammar text into a parser expression.
// Implementations must be safe for concurrent use.
type Compiler interface {
	Compile(ctx context.Context, source string, opts Options) (string, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, source string, opts Options) (string, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, source string, opts Options) (string, error) {
	return f(ctx, source, opts)
}

// SyntaxError is a grammar rejected by the compiler.
type SyntaxError struct {
	// Diagnostic is the compiler's own message.
	Diagnostic string
	Err        error
}

func (e *SyntaxError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("grammar rejected: %v", e.Err)
	}
	return "grammar rejected: " + e.Diagnostic
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// normalizeExpression strips surrounding whitespace and a trailing statement
// terminator so the result can be embedded in another statement.
func normalizeExpression(out string) string {
	expr := strings.TrimSpace(out)
	expr = strings.TrimSuffix(expr, ";")
	return strings.TrimSpace(expr)
}
