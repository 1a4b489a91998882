package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/c360studio/grambuild/buildinfo"
	"github.com/c360studio/grambuild/config"
	"github.com/c360studio/grambuild/transform"
)

var targets = map[string]api.Target{
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// Assembly is the bundler configuration produced by one evaluation.
type Assembly struct {
	// Options is handed to esbuild unchanged.
	Options api.BuildOptions
	// Constants are the values substituted through Options.Define.
	Constants buildinfo.Constants
	// Rule is the transform rule, kept to pick grammar inputs out of the
	// build metafile.
	Rule transform.Rule
	// TestEnvironment is carried for the test runner. The build ignores it.
	TestEnvironment string
}

// Assemble merges the constants and the transform plugin into bundler
// options. Every reference to a constant name is replaced with its value as
// a string literal.
func Assemble(ctx context.Context, cfg *config.Config, consts buildinfo.Constants, plugin *transform.Plugin) (*Assembly, error) {
	target, ok := targets[cfg.Build.Target]
	if !ok {
		return nil, fmt.Errorf("unsupported target %q", cfg.Build.Target)
	}

	define := make(map[string]string, 2)
	for _, c := range consts.All() {
		if c.Name == "" {
			return nil, fmt.Errorf("constant without a name")
		}
		if _, dup := define[c.Name]; dup {
			return nil, fmt.Errorf("constant %s defined twice", c.Name)
		}
		lit, err := quote(c.Value)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", c.Name, err)
		}
		define[c.Name] = lit
	}

	sourcemap := api.SourceMapNone
	if cfg.Build.Sourcemap {
		sourcemap = api.SourceMapLinked
	}

	opts := api.BuildOptions{
		EntryPoints:       cfg.Build.EntryPoints,
		Outdir:            cfg.Path(cfg.Build.OutDir),
		AbsWorkingDir:     cfg.Project.Root,
		Bundle:            true,
		Write:             true,
		Metafile:          true,
		Format:            api.FormatESModule,
		Target:            target,
		MinifyWhitespace:  cfg.Build.Minify,
		MinifyIdentifiers: cfg.Build.Minify,
		MinifySyntax:      cfg.Build.Minify,
		Sourcemap:         sourcemap,
		Define:            define,
		Plugins:           []api.Plugin{plugin.ESBuild(ctx)},
		LogLevel:          api.LogLevelSilent,
	}

	return &Assembly{
		Options:         opts,
		Constants:       consts,
		Rule:            plugin.Rule(),
		TestEnvironment: cfg.Build.TestEnvironment,
	}, nil
}

// quote renders s as a JavaScript string literal without HTML escaping.
func quote(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
