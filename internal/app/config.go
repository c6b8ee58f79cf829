package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/server"
	"github.com/raysh454/apilens/internal/supervisor"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path of the SQLite database. Defaults to <storage_root>/jobs.db.
	Path string `yaml:"path"`
}

// DiagramConfig enables image rendering through an external Mermaid CLI.
// Diagram text is always generated; images only when RenderCommand is set.
type DiagramConfig struct {
	RenderCommand string `yaml:"render_command"`
	Format        string `yaml:"format"`
}

// Config is the application configuration. Every section has defaults, so
// a config file only needs the values it changes.
type Config struct {
	Server server.Config `yaml:"server"`

	// StorageRoot is the base path for persistent state.
	StorageRoot string `yaml:"storage_root"`

	Store      StoreConfig         `yaml:"store"`
	Pipeline   pipeline.Config     `yaml:"pipeline"`
	Extractor  extractor.Config    `yaml:"extractor"`
	Comparator conformance.Options `yaml:"comparator"`
	Diagram    DiagramConfig       `yaml:"diagram"`
	Retention  supervisor.Config   `yaml:"retention"`
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:      server.DefaultConfig(),
		StorageRoot: "~/.config/apilens",
		Store:       StoreConfig{Backend: BackendMemory},
		Pipeline:    pipeline.DefaultConfig(),
		Extractor: extractor.Config{
			Patterns: append([]string(nil), extractor.DefaultPatterns...),
		},
		Comparator: conformance.DefaultOptions(),
		Diagram:    DiagramConfig{Format: "svg"},
		Retention:  supervisor.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config and expands StorageRoot.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: must be %s or %s", c.Store.Backend, BackendMemory, BackendSQLite))
	}
	if c.Store.Backend == BackendSQLite && c.Store.Path == "" && c.StorageRoot == "" {
		errs = append(errs, errors.New("store.path or storage_root is required for the sqlite backend"))
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("pipeline.max_concurrency must be positive"))
	}
	if c.Pipeline.EventBuffer <= 0 {
		errs = append(errs, errors.New("pipeline.event_buffer must be positive"))
	}
	if len(c.Extractor.Patterns) == 0 {
		errs = append(errs, errors.New("extractor.inventory_patterns must not be empty"))
	}
	for _, p := range c.Extractor.Patterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("extractor.inventory_patterns: invalid glob %q", p))
		}
	}
	if c.Comparator.UndocumentedPenalty < 0 || c.Comparator.UndocumentedPenalty > 1 {
		errs = append(errs, errors.New("comparator.undocumented_penalty must be within [0, 1]"))
	}
	switch strings.ToLower(c.Diagram.Format) {
	case "", "svg", "png":
	default:
		errs = append(errs, fmt.Errorf("diagram.format %q: must be svg or png", c.Diagram.Format))
	}
	if c.Retention.JobTTL < 0 || c.Retention.SweepInterval < 0 || c.Retention.StageTimeout < 0 {
		errs = append(errs, errors.New("retention durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	root, err := expandPath(c.StorageRoot)
	if err != nil {
		return fmt.Errorf("expanding storage root path: %w", err)
	}
	c.StorageRoot = root
	return nil
}

// StorePath is where the SQLite backend keeps its database.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return expandPath(c.Store.Path)
	}
	return filepath.Join(c.StorageRoot, "jobs.db"), nil
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
