package grammar

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// ErrNoDefaultExport is returned for modules without an export default.
var ErrNoDefaultExport = errors.New("module has no default export")

// Verifier checks that generated module source parses as JavaScript and
// exports a default value.
type Verifier struct{}

// NewVerifier creates a verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify parses code with tree-sitter. It fails on any syntax error node or
// when no top-level export default statement is present.
func (v *Verifier) Verify(ctx context.Context, code string) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return fmt.Errorf("parse generated module: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return fmt.Errorf("generated module has syntax errors: %s", firstError(root))
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		if isDefaultExport(root.NamedChild(i)) {
			return nil
		}
	}
	return ErrNoDefaultExport
}

func isDefaultExport(node *sitter.Node) bool {
	if node == nil || node.Type() != "export_statement" {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "default" {
			return true
		}
	}
	return false
}

// firstError describes the position of the first ERROR or MISSING node.
func firstError(node *sitter.Node) string {
	if node.IsError() || node.IsMissing() {
		p := node.StartPoint()
		return fmt.Sprintf("line %d column %d", p.Row+1, p.Column+1)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			return firstError(child)
		}
	}
	return "unknown position"
}
