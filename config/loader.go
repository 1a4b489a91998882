package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "grambuild.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/grambuild"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// PackageManifest marks a project root when no config file is present
	PackageManifest = "package.json"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	dir    string
	home   string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// WithDir sets the directory the project search starts from (default: cwd)
func (l *Loader) WithDir(dir string) *Loader {
	l.dir = dir
	return l
}

// WithHome sets the home directory holding the user config (default: $HOME)
func (l *Loader) WithHome(home string) *Loader {
	l.home = home
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/grambuild/config.yaml)
// 3. Project config (grambuild.yaml in current or parent directories)
// 4. Explicit file, when path is non-empty
func (l *Loader) Load(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if err := l.overlayFile(config, userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := path
	if projectConfigPath == "" {
		projectConfigPath = l.findUpward(ProjectConfigFile)
	}
	if projectConfigPath != "" {
		if err := l.overlayFile(config, projectConfigPath); err != nil {
			if path != "" {
				return nil, err
			}
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			if config.Project.Root == "" {
				config.Project.Root = filepath.Dir(projectConfigPath)
			}
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Auto-detect project root if not set
	if config.Project.Root == "" {
		config.Project.Root = l.detectRoot()
	}
	if abs, err := filepath.Abs(config.Project.Root); err == nil {
		config.Project.Root = abs
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// overlayFile decodes the config file at path on top of config. A relative
// project root set by the file is resolved against the file's directory.
func (l *Loader) overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	root := config.Project.Root
	if err := config.Overlay(data); err != nil {
		return err
	}
	if config.Project.Root != root && config.Project.Root != "" && !filepath.IsAbs(config.Project.Root) {
		config.Project.Root = filepath.Join(filepath.Dir(path), config.Project.Root)
	}
	return nil
}

// Environment returns the variables provenance overrides are read from: the
// configured dotenv file overlaid by the process environment. A missing
// dotenv file is not an error.
func (l *Loader) Environment(config *Config) (map[string]string, error) {
	env := make(map[string]string)

	if name := config.Provenance.EnvFile; name != "" {
		envPath := config.Path(name)
		values, err := godotenv.Read(envPath)
		switch {
		case err == nil:
			l.logger.Debug("Loaded env file", slog.String("path", envPath), slog.Int("vars", len(values)))
			for k, v := range values {
				env[k] = v
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", envPath, err)
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("no home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// startDir returns the directory searches begin in
func (l *Loader) startDir() string {
	if l.dir != "" {
		if abs, err := filepath.Abs(l.dir); err == nil {
			return abs
		}
		return l.dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findUpward searches for name in the start directory and its parents
func (l *Loader) findUpward(name string) string {
	dir := l.startDir()
	if dir == "" {
		return ""
	}

	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// detectRoot picks the nearest package.json directory, then the git root,
// then the start directory
func (l *Loader) detectRoot() string {
	if manifest := l.findUpward(PackageManifest); manifest != "" {
		root := filepath.Dir(manifest)
		l.logger.Debug("Auto-detected project root", slog.String("path", root))
		return root
	}
	if gitRoot := l.detectGitRoot(); gitRoot != "" {
		l.logger.Debug("Auto-detected git root", slog.String("path", gitRoot))
		return gitRoot
	}
	dir := l.startDir()
	l.logger.Debug("Using current directory as project root", slog.String("path", dir))
	return dir
}

// detectGitRoot finds the git repository root from the start directory
func (l *Loader) detectGitRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = l.startDir()
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
