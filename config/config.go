// Package config provides configuration loading and management for grambuild.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/grambuild/transform"
)

// Config represents the complete grambuild configuration
type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Build      BuildConfig      `yaml:"build"`
	Grammar    GrammarConfig    `yaml:"grammar"`
	Provenance ProvenanceConfig `yaml:"provenance"`
	Defines    DefinesConfig    `yaml:"defines"`
}

// ProjectConfig locates the project
type ProjectConfig struct {
	// Root is the directory holding package.json (auto-detected if empty)
	Root string `yaml:"root"`
}

// BuildConfig configures the bundler
type BuildConfig struct {
	// EntryPoints are the application entry modules, relative to the root
	EntryPoints []string `yaml:"entry_points"`
	// OutDir receives the bundled output
	OutDir string `yaml:"out_dir"`
	// Minify enables whitespace, identifier and syntax minification
	Minify bool `yaml:"minify"`
	// Sourcemap emits linked source maps for the bundle
	Sourcemap bool `yaml:"sourcemap"`
	// Target is the ECMAScript language target (es2017 ... es2024, esnext)
	Target string `yaml:"target"`
	// TestEnvironment names the environment the test runner uses
	TestEnvironment string `yaml:"test_environment"`
}

// GrammarConfig configures the grammar transform
type GrammarConfig struct {
	// Include lists glob patterns of grammar files (default: **/*.peggy)
	Include []string `yaml:"include"`
	// Exclude is an optional glob pattern of files to skip
	Exclude string `yaml:"exclude"`
	// Command runs the grammar compiler (default: npx --no-install peggy)
	Command []string `yaml:"command"`
	// Options are passed to the compiler verbatim
	Options map[string]any `yaml:"options"`
	// Verify parses every generated module before handing it to the bundler
	Verify bool `yaml:"verify"`
}

// ProvenanceConfig configures build provenance derivation
type ProvenanceConfig struct {
	// DateVar names the environment variable holding a precomputed commit date
	DateVar string `yaml:"date_var"`
	// HashVar names the environment variable holding a precomputed commit id
	HashVar string `yaml:"hash_var"`
	// EnvFile is a dotenv file read before the process environment (relative to root)
	EnvFile string `yaml:"env_file"`
}

// DefinesConfig names the identifiers replaced with build constants
type DefinesConfig struct {
	Version  string `yaml:"version"`
	Licenses string `yaml:"licenses"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Root: "", // Auto-detect
		},
		Build: BuildConfig{
			EntryPoints:     []string{"src/main.js"},
			OutDir:          "dist",
			Minify:          true,
			Sourcemap:       false,
			Target:          "es2020",
			TestEnvironment: "jsdom",
		},
		Grammar: GrammarConfig{
			Include: []string{transform.DefaultInclude},
			Exclude: "",
			Command: nil, // npx peggy
			Options: nil,
		},
		Provenance: ProvenanceConfig{
			DateVar: "GIT_COMMIT_DATE",
			HashVar: "GIT_COMMIT_HASH",
			EnvFile: ".env",
		},
		Defines: DefinesConfig{
			Version:  "__VERSION__",
			Licenses: "__LICENSES__",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Build.EntryPoints) == 0 {
		return fmt.Errorf("build.entry_points is required")
	}
	if c.Build.OutDir == "" {
		return fmt.Errorf("build.out_dir is required")
	}
	if _, ok := targets[c.Build.Target]; !ok {
		return fmt.Errorf("build.target %q is not supported", c.Build.Target)
	}
	if err := c.Rule().Validate(); err != nil {
		return fmt.Errorf("grammar: %w", err)
	}
	if c.Provenance.DateVar == "" || c.Provenance.HashVar == "" {
		return fmt.Errorf("provenance.date_var and provenance.hash_var are required")
	}
	if c.Provenance.DateVar == c.Provenance.HashVar {
		return fmt.Errorf("provenance.date_var and provenance.hash_var must differ")
	}
	if c.Defines.Version == "" || c.Defines.Licenses == "" {
		return fmt.Errorf("defines.version and defines.licenses are required")
	}
	if c.Defines.Version == c.Defines.Licenses {
		return fmt.Errorf("defines.version and defines.licenses must differ")
	}
	return nil
}

// targets lists the accepted build.target values
var targets = map[string]struct{}{
	"es2017": {}, "es2018": {}, "es2019": {}, "es2020": {},
	"es2021": {}, "es2022": {}, "es2023": {}, "es2024": {}, "esnext": {},
}

// Rule returns the transform rule described by the grammar section
func (c *Config) Rule() transform.Rule {
	return transform.Rule{
		Include: c.Grammar.Include,
		Exclude: c.Grammar.Exclude,
		Root:    c.Project.Root,
	}
}

// Path resolves p against the project root unless it is already absolute
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Project.Root, p)
}

// LoadFromFile loads configuration from a YAML file. Keys the file omits
// keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := config.Overlay(data); err != nil {
		return nil, err
	}

	return config, nil
}

// Overlay decodes a YAML document on top of the config. Keys present in the
// document replace the current values, including false booleans and empty
// strings; absent keys are left alone. Maps are merged key by key.
func (c *Config) Overlay(data []byte) error {
	next := *c
	next.Grammar.Options = maps.Clone(c.Grammar.Options)
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	*c = next
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
