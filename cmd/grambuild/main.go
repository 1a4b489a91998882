// Package main provides the grambuild binary entry point.
// Grambuild bundles a JavaScript application whose grammar files are compiled
// to parser modules on the fly, with build provenance and dependency
// attribution injected as constants.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/grambuild/config"
	"github.com/c360studio/grambuild/pipeline"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "grambuild"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	dir        string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Grammar-aware JavaScript bundler",
		Long: `Grambuild bundles a JavaScript application with esbuild.

It provides:
- Grammar files (*.peggy) compiled to parser modules during bundling
- __VERSION__ replaced with "<commit date>/<revision>" from git
- __LICENSES__ replaced with links to every runtime dependency

GIT_COMMIT_DATE and GIT_COMMIT_HASH override git, for builds outside a checkout.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVarP(&flags.dir, "dir", "C", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		buildCmd(flags),
		watchCmd(flags),
		compileCmd(flags),
		provenanceCmd(flags),
		licensesCmd(flags),
		initCmd(flags),
		versionCmd(),
	)

	return cmd
}

// newLogger configures logging for level, writing to w
func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (f *globalFlags) app(cmd *cobra.Command) (*App, error) {
	logger := newLogger(f.logLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return NewApp(f.configPath, f.dir, logger)
}

func buildCmd(flags *globalFlags) *cobra.Command {
	var reportPath, metricsPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle the application once",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app(cmd)
			if err != nil {
				return err
			}

			report, buildErr := app.Build(cmd.Context())
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
				if reportPath != "" {
					if err := report.WriteJSON(reportPath); err != nil {
						return err
					}
				}
			}
			if metricsPath != "" {
				if err := app.WriteMetrics(metricsPath); err != nil {
					return err
				}
			}
			return buildErr
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON build report to this path")
	cmd.Flags().StringVar(&metricsPath, "metrics-out", "", "Write transform metrics to this path (prometheus text format)")
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Bundle the application and rebuild on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return app.Watch(cmd.Context(), func(r *pipeline.Report) {
				printReport(out, r)
			})
		},
	}
}

func compileCmd(flags *globalFlags) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "compile [patterns...]",
		Short: "Compile grammar files to standalone parser modules",
		Long: `Compile grammar files to ES modules exporting the generated parser.

Patterns may be file paths or globs with ** support. With no patterns, every
grammar accepted by the configured include/exclude rule is compiled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app(cmd)
			if err != nil {
				return err
			}

			patterns := args
			if len(patterns) == 0 {
				if patterns, err = app.Grammars(); err != nil {
					return err
				}
				if len(patterns) == 0 {
					return errors.New("no grammar files found")
				}
			}

			written, err := app.Compile(cmd.Context(), patterns, outDir)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: next to each grammar)")
	return cmd
}

func provenanceCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "provenance",
		Short: "Print the build provenance string",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app(cmd)
			if err != nil {
				return err
			}
			c := app.Provenance(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), c.Value)
			if c.IsDegraded() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", c.Warning)
			}
			return nil
		},
	}
}

func licensesCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Print the dependency attribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app(cmd)
			if err != nil {
				return err
			}
			text, err := app.Licenses(format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "html", "Output format (html, markdown, json)")
	return cmd
}

func initCmd(flags *globalFlags) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.ProjectConfigFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel, cmd.ErrOrStderr())
			if user {
				return config.NewLoader(logger).EnsureUserConfig()
			}

			path := filepath.Join(flags.dir, config.ProjectConfigFile)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().BoolVar(&user, "user", false, "Create the user config instead")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func printReport(w io.Writer, r *pipeline.Report) {
	status := "ok"
	if r.Failed() {
		status = "failed"
	}
	fmt.Fprintf(w, "build %s: %s (version %s, %d grammars, %d outputs)\n",
		r.ID, status, r.Provenance, len(r.Grammars), len(r.Outputs))
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
