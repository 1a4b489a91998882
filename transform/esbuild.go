package transform

import (
	"context"
	"fmt"
	"os"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/c360studio/grambuild/metrics"
)

// ESBuild adapts the plugin to an esbuild load callback. Declined assets
// return an empty result so later callbacks and the default loader run.
// Compile failures become build errors located at the grammar file.
func (p *Plugin) ESBuild(ctx context.Context) api.Plugin {
	return api.Plugin{
		Name: PluginName,
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: p.rule.Filter(), Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return p.onLoad(ctx, args)
				})
		},
	}
}

func (p *Plugin) onLoad(ctx context.Context, args api.OnLoadArgs) (api.OnLoadResult, error) {
	if !p.rule.Matches(args.Path) {
		p.metrics.Outcome(metrics.OutcomeDeclined)
		return api.OnLoadResult{}, nil
	}

	content, err := os.ReadFile(args.Path)
	if err != nil {
		return api.OnLoadResult{}, fmt.Errorf("read grammar: %w", err)
	}

	res, err := p.compile(ctx, string(content), args.Path)
	if err != nil {
		p.logger.Error("Grammar transform failed",
			"path", args.Path,
			"error", err)
		return api.OnLoadResult{
			Errors: []api.Message{{
				Text:     err.Error(),
				Location: &api.Location{File: args.Path},
			}},
			WatchFiles: []string{args.Path},
		}, nil
	}

	return api.OnLoadResult{
		Contents:   &res.Code,
		Loader:     api.LoaderJS,
		WatchFiles: []string{args.Path},
	}, nil
}
