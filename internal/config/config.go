package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and downstream kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	DownstreamMemory  = "memory"
	DownstreamOpenMRS = "openmrs"
)

// Defaults for pipeline tuning.
const (
	DefaultConcurrency   = 100
	DefaultSubmitTimeout = 30 * time.Second
	DefaultMaxFileBytes  = 50 << 20
	DefaultLockTTL       = 2 * time.Minute
)

// Config holds all runtime configuration for a tm2load run.
type Config struct {
	DSN       string
	LogFormat string // "text" or "json"
	LogLevel  string
	FilePath  string

	StoreKind      string // "memory" or "postgres"
	DownstreamKind string // "memory" or "openmrs"
	MappingsPath   string
	Concurrency    int
	SubmitTimeout  time.Duration
	SubmitRate     float64 // requests per second; 0 is unlimited
	MaxFileBytes   int64

	OpenMRSBaseURL  string
	OpenMRSUsername string
	OpenMRSPassword string

	RedisAddr string
	LockTTL   time.Duration

	ListenAddr string
}

// Default returns a Config with every tuning field at its default.
func Default() Config {
	return Config{
		LogFormat:      "text",
		LogLevel:       "info",
		StoreKind:      StoreMemory,
		DownstreamKind: DownstreamMemory,
		Concurrency:    DefaultConcurrency,
		SubmitTimeout:  DefaultSubmitTimeout,
		MaxFileBytes:   DefaultMaxFileBytes,
		LockTTL:        DefaultLockTTL,
		ListenAddr:     ":8080",
	}
}

// yamlConfig is the on-disk YAML structure. Unset fields keep the value
// already in Config.
type yamlConfig struct {
	Store         *string        `yaml:"store"`
	Downstream    *string        `yaml:"downstream"`
	Mappings      *string        `yaml:"mappings"`
	Concurrency   *int           `yaml:"concurrency"`
	SubmitTimeout *time.Duration `yaml:"submit_timeout"`
	SubmitRate    *float64       `yaml:"submit_rate_per_second"`
	MaxFileBytes  *int64         `yaml:"max_file_bytes"`
	LockTTL       *time.Duration `yaml:"lock_ttl"`
	Listen        *string        `yaml:"listen"`
}

// LoadFromFile reads a YAML config file and merges its values into Config.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setIf(&c.StoreKind, yc.Store)
	setIf(&c.DownstreamKind, yc.Downstream)
	setIf(&c.MappingsPath, yc.Mappings)
	setIf(&c.Concurrency, yc.Concurrency)
	setIf(&c.SubmitTimeout, yc.SubmitTimeout)
	setIf(&c.SubmitRate, yc.SubmitRate)
	setIf(&c.MaxFileBytes, yc.MaxFileBytes)
	setIf(&c.LockTTL, yc.LockTTL)
	setIf(&c.ListenAddr, yc.Listen)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks the pipeline settings and the connection settings they
// imply.
func (c *Config) Validate() error {
	switch c.StoreKind {
	case StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("--dsn or TM2_DB_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.StoreKind, StoreMemory, StorePostgres)
	}

	switch c.DownstreamKind {
	case DownstreamMemory:
	case DownstreamOpenMRS:
		if c.OpenMRSBaseURL == "" {
			return fmt.Errorf("--openmrs-url or OPENMRS_BASE_URL is required for the openmrs downstream")
		}
	default:
		return fmt.Errorf("unknown downstream %q (want %s or %s)", c.DownstreamKind, DownstreamMemory, DownstreamOpenMRS)
	}

	if c.MappingsPath == "" && c.StoreKind != StorePostgres {
		return fmt.Errorf("--mappings is required unless mappings are loaded from postgres")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit timeout must be positive, got %s", c.SubmitTimeout)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileBytes)
	}
	if c.SubmitRate < 0 {
		return fmt.Errorf("submit rate must not be negative, got %g", c.SubmitRate)
	}
	if c.RedisAddr != "" && c.LockTTL <= c.SubmitTimeout {
		return fmt.Errorf("lock ttl %s must exceed submit timeout %s", c.LockTTL, c.SubmitTimeout)
	}
	return nil
}

// ValidateFile checks that --file points at a readable file.
func (c *Config) ValidateFile() error {
	if c.FilePath == "" {
		return fmt.Errorf("--file is required")
	}
	if _, err := os.Stat(c.FilePath); err != nil {
		return fmt.Errorf("file not accessible: %w", err)
	}
	return nil
}

// ValidateDSN checks that a DSN is present.
func (c *Config) ValidateDSN() error {
	if c.DSN == "" {
		return fmt.Errorf("--dsn or TM2_DB_URL is required")
	}
	return nil
}
