// Package config handles orchestrator configuration and the .kiln directory
// structure. Every project that runs kiln gets a .kiln/ folder in its root
// holding the config file and logs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// KilnDir is the name of the directory created in each project root.
	KilnDir = ".kiln"

	configFileName = "config.yaml"

	defaultPackageManager = "npm"
)

const defaultConfigYAML = `# kiln project configuration
version: 1

# Directory chains searched for generator files, tried longest first.
lookup_prefixes:
  - lib/generators
  - generators

# Namespace rewrite rules applied on lookup, newest first.
# aliases:
#   - match: "^legacy$"
#     replacement: "demo:app"

package_manager: npm

# Append a run log under .kiln/logs.
log_file: true
`

// AliasRule is one namespace rewrite declared in the config file.
type AliasRule struct {
	Match       string `yaml:"match"`
	Replacement string `yaml:"replacement"`
}

// Config is the parsed .kiln/config.yaml.
type Config struct {
	Version        int         `yaml:"version"`
	LookupPrefixes []string    `yaml:"lookup_prefixes"`
	Aliases        []AliasRule `yaml:"aliases,omitempty"`
	PackageManager string      `yaml:"package_manager"`
	LogFile        bool        `yaml:"log_file"`

	// ProjectDir is the root the config was loaded for; not serialized.
	ProjectDir string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default(projectDir string) *Config {
	return &Config{
		Version:        1,
		LookupPrefixes: []string{"lib/generators", "generators"},
		PackageManager: defaultPackageManager,
		LogFile:        true,
		ProjectDir:     projectDir,
	}
}

// KilnProjectDir returns the .kiln directory for a project root.
func KilnProjectDir(projectDir string) string {
	return filepath.Join(projectDir, KilnDir)
}

// InitKilnDir creates the .kiln layout and writes the default config file if
// missing.
func InitKilnDir(projectDir string) error {
	dir := KilnProjectDir(projectDir)
	for _, sub := range []string{"", "logs", "generators"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", filepath.Join(dir, sub), err)
		}
	}
	path := filepath.Join(dir, configFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write default config: %w", err)
	}
	return nil
}

// Load reads the project configuration, falling back to defaults when the
// file is absent.
func Load(projectDir string) (*Config, error) {
	path := filepath.Join(KilnProjectDir(projectDir), configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(projectDir), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default(projectDir)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.ProjectDir = projectDir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("config: unsupported version %d", c.Version)
	}
	if strings.TrimSpace(c.PackageManager) == "" {
		return fmt.Errorf("config: package_manager is required")
	}
	for i, alias := range c.Aliases {
		if strings.TrimSpace(alias.Match) == "" {
			return fmt.Errorf("config: aliases[%d]: match is required", i)
		}
	}
	return nil
}

// LogPath returns the run log location under .kiln/logs.
func (c *Config) LogPath() string {
	return filepath.Join(KilnProjectDir(c.ProjectDir), "logs", "kiln.log")
}
