// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// EnvVar names the environment variable [Load] reads.
const EnvVar = "NYDUS_CAS_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Engine names accepted in cas.engine.
const (
	EngineSQLite = "sqlite"
	EngineBadger = "badger"
)

// Config is the top-level configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	CAS       CASConfig       `yaml:"cas"`
	Cache     CacheConfig     `yaml:"cache"`
	Backend   BackendConfig   `yaml:"backend"`
	ChunkDict ChunkDictConfig `yaml:"chunk_dict"`
	Rafs      RafsConfig      `yaml:"rafs"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may override.
// Nil pointers leave the base value alone.
type Overrides struct {
	LogLevel *string       `yaml:"log_level,omitempty"`
	CAS      *CASOverrides `yaml:"cas,omitempty"`
	Cache    *CacheConfig  `yaml:"cache,omitempty"`
	Validate *bool         `yaml:"validate,omitempty"`
}

// CASOverrides mirrors CASConfig with Enabled optional.
type CASOverrides struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Engine       string   `yaml:"engine"`
	DatabasePath string   `yaml:"database_path"`
	GCInterval   Duration `yaml:"gc_interval"`
}

// CASConfig configures the chunk dedup index.
type CASConfig struct {
	// Enabled turns chunk deduplication on.
	Enabled bool `yaml:"enabled"`

	// Engine selects the index storage: "sqlite" (default) or
	// "badger".
	Engine string `yaml:"engine"`

	// DatabasePath is the SQLite file, or the Badger directory.
	DatabasePath string `yaml:"database_path"`

	// GCInterval is the period of background GC in serve mode. Zero
	// disables periodic GC.
	GCInterval Duration `yaml:"gc_interval"`
}

// CacheConfig configures the blob cache.
type CacheConfig struct {
	// WorkDir holds the <blob id>.blob.data cache files.
	WorkDir string `yaml:"work_dir"`

	// Workers bounds concurrent chunk fetches.
	Workers int `yaml:"workers"`

	// Validate verifies fetched chunks against their digests.
	Validate bool `yaml:"validate"`
}

// BackendConfig configures where stored blobs are read from.
type BackendConfig struct {
	// Dir is a directory of blob files named by blob id.
	Dir string `yaml:"dir"`
}

// ChunkDictConfig configures the chunk dictionary used at build time.
type ChunkDictConfig struct {
	// Source is a dictionary argument such as
	// "bootstrap=/path/to/image.boot". Empty disables the dictionary.
	Source string `yaml:"source"`
}

// RafsConfig describes the image layout the dictionary must match.
type RafsConfig struct {
	// Version is "5" or "6".
	Version   string           `yaml:"version"`
	Digester  digest.Algorithm `yaml:"digester"`
	ChunkSize ByteSize         `yaml:"chunk_size"`

	ExplicitUIDGID bool `yaml:"explicit_uidgid"`
}

// Default returns the development defaults. CAS is enabled with the
// SQLite engine under ${HOME}/.cache/nydus.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "nydus")

	return &Config{
		Environment: Development,
		LogLevel:    "info",
		CAS: CASConfig{
			Enabled:      true,
			Engine:       EngineSQLite,
			DatabasePath: filepath.Join(root, "cas.db"),
		},
		Cache: CacheConfig{
			WorkDir: filepath.Join(root, "cache"),
			Workers: 8,
		},
		Backend: BackendConfig{
			Dir: filepath.Join(root, "blobs"),
		},
		Rafs: RafsConfig{
			Version:   "6",
			Digester:  digest.Blake3,
			ChunkSize: 1 << 20,
		},
	}
}

// Load reads the file named by NYDUS_CAS_CONFIG, or returns the
// defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path on top of the defaults,
// applies environment overrides, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil || overrides.Validate == nil {
			c.Cache.Validate = true
		}
	}
	if overrides == nil {
		return
	}

	if overrides.LogLevel != nil {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.Validate != nil {
		c.Cache.Validate = *overrides.Validate
	}
	if cas := overrides.CAS; cas != nil {
		if cas.Enabled != nil {
			c.CAS.Enabled = *cas.Enabled
		}
		if cas.Engine != "" {
			c.CAS.Engine = cas.Engine
		}
		if cas.DatabasePath != "" {
			c.CAS.DatabasePath = cas.DatabasePath
		}
		if cas.GCInterval != 0 {
			c.CAS.GCInterval = cas.GCInterval
		}
	}
	if cache := overrides.Cache; cache != nil {
		if cache.WorkDir != "" {
			c.Cache.WorkDir = cache.WorkDir
		}
		if cache.Workers != 0 {
			c.Cache.Workers = cache.Workers
		}
	}
}

func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"HOME":       homeDir,
		"NYDUS_ROOT": filepath.Join(homeDir, ".cache", "nydus"),
	}

	c.CAS.DatabasePath = expandVars(c.CAS.DatabasePath, vars)
	c.Cache.WorkDir = expandVars(c.Cache.WorkDir, vars)
	c.Backend.Dir = expandVars(c.Backend.Dir, vars)
	c.ChunkDict.Source = expandVars(c.ChunkDict.Source, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{EngineSQLite, EngineBadger}, c.CAS.Engine) {
		errs = append(errs, fmt.Errorf("cas.engine must be %q or %q, got %q", EngineSQLite, EngineBadger, c.CAS.Engine))
	}
	if c.CAS.Enabled && c.CAS.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("cas.database_path is required when cas is enabled"))
	}
	if c.CAS.GCInterval < 0 {
		errs = append(errs, fmt.Errorf("cas.gc_interval must not be negative"))
	}
	if c.Cache.Workers <= 0 {
		errs = append(errs, fmt.Errorf("cache.workers must be positive, got %d", c.Cache.Workers))
	}
	if _, err := c.SuperConfig(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// SuperConfig returns the rafs section as the compatibility target for
// chunk dictionaries.
func (c *Config) SuperConfig() (rafs.SuperConfig, error) {
	version, err := rafs.ParseVersion(c.Rafs.Version)
	if err != nil {
		return rafs.SuperConfig{}, fmt.Errorf("rafs.version: %w", err)
	}
	if c.Rafs.ChunkSize == 0 || c.Rafs.ChunkSize > 1<<32-1 {
		return rafs.SuperConfig{}, fmt.Errorf("rafs.chunk_size %d out of range", c.Rafs.ChunkSize)
	}
	if !c.Rafs.Digester.Valid() {
		return rafs.SuperConfig{}, fmt.Errorf("rafs.digester: invalid algorithm %d", c.Rafs.Digester)
	}
	return rafs.SuperConfig{
		Version:        version,
		Digester:       c.Rafs.Digester,
		ChunkSize:      uint32(c.Rafs.ChunkSize),
		ExplicitUIDGID: c.Rafs.ExplicitUIDGID,
	}, nil
}
