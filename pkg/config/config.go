// Package config loads the project configuration file (.guard.yaml).
//
// Precedence: project .guard.yaml, then ~/.guard/config.yaml, then the
// built-in defaults. Only the first file found is used; files are not merged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/thomasrohde/guardeval/pkg/names"
)

// ProjectFile is the name of the per-project configuration file.
const ProjectFile = ".guard.yaml"

// Config represents the top-level .guard.yaml configuration.
type Config struct {
	Capabilities Capabilities      `yaml:"capabilities"`
	Namespaces   map[string]string `yaml:"namespaces,omitempty"`
	Budget       Budget            `yaml:"budget"`
	Validation   Validation        `yaml:"validation"`
	Documents    Documents         `yaml:"documents"`

	// Path is the file the configuration was read from; empty for defaults.
	Path string `yaml:"-"`
}

// Capabilities lists the capability IDs granted to programs. Deny wins over
// allow.
type Capabilities struct {
	Allow []string `yaml:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty"`
}

// Budget holds default resource limits. Program budget headers override them.
type Budget struct {
	TimeMs          *int64 `yaml:"timeMs,omitempty"`
	MaxToolCalls    *int64 `yaml:"maxToolCalls,omitempty"`
	MaxBytesWritten *int64 `yaml:"maxBytesWritten,omitempty"`
	MaxIterations   *int64 `yaml:"maxIterations,omitempty"`
	MaxDepth        *int64 `yaml:"maxDepth,omitempty"`
}

// Validation toggles optional checks.
type Validation struct {
	// IDs enables xml:id style validation of the id builtin.
	IDs bool `yaml:"ids"`
}

// Documents configures where doc {} fetches from. When SQLite is set it
// takes precedence over Root.
type Documents struct {
	Root   string `yaml:"root,omitempty"`
	SQLite string `yaml:"sqlite,omitempty"`
}

// Default returns the configuration used when no file is found: no
// capabilities, no extra namespaces, no limits, documents from the working
// directory.
func Default() *Config {
	return &Config{Documents: Documents{Root: "."}}
}

// Load finds and parses the configuration for projectDir.
func Load(projectDir string) (*Config, error) {
	candidates := []string{filepath.Join(projectDir, ProjectFile)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".guard", "config.yaml"))
	}

	for _, path := range candidates {
		cfg, err := LoadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return Default(), nil
}

// LoadFile reads and parses a single configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse parses configuration content. path is used only for error messages.
func Parse(data []byte, path string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

func (c *Config) validate(path string) error {
	for _, prefix := range sortedKeys(c.Namespaces) {
		if !names.IsNCName(prefix) {
			return fmt.Errorf("%s: namespaces: invalid prefix %q", path, prefix)
		}
		if c.Namespaces[prefix] == "" {
			return fmt.Errorf("%s: namespaces: prefix %q has an empty URI", path, prefix)
		}
	}

	limits := []struct {
		name string
		v    *int64
	}{
		{"timeMs", c.Budget.TimeMs},
		{"maxToolCalls", c.Budget.MaxToolCalls},
		{"maxBytesWritten", c.Budget.MaxBytesWritten},
		{"maxIterations", c.Budget.MaxIterations},
		{"maxDepth", c.Budget.MaxDepth},
	}
	for _, l := range limits {
		if l.v != nil && *l.v < 0 {
			return fmt.Errorf("%s: budget.%s must not be negative", path, l.name)
		}
	}
	return nil
}

// resolvePaths makes relative document locations relative to the directory
// holding the configuration file.
func (c *Config) resolvePaths(dir string) {
	if c.Documents.Root != "" && !filepath.IsAbs(c.Documents.Root) {
		c.Documents.Root = filepath.Join(dir, c.Documents.Root)
	}
	if c.Documents.SQLite != "" && !filepath.IsAbs(c.Documents.SQLite) {
		c.Documents.SQLite = filepath.Join(dir, c.Documents.SQLite)
	}
}

// NamespaceTable returns the built-in prefixes extended with the configured
// bindings. Configured bindings replace built-in ones of the same prefix.
func (c *Config) NamespaceTable() *names.Namespaces {
	ns := names.DefaultNamespaces()
	for _, prefix := range sortedKeys(c.Namespaces) {
		ns.Bind(prefix, c.Namespaces[prefix])
	}
	return ns
}

// Marshal renders the configuration back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
