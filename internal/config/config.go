package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "pgx"
	DSN    string `yaml:"dsn"`
}

type CorpusConfig struct {
	SourcesDir   string   `yaml:"sources_dir"`
	Roots        []string `yaml:"roots"`      // empty means every directory under sources_dir
	SkipNames    []string `yaml:"skip_names"` // entry names never registered
	WorkspaceDir string   `yaml:"workspace_dir"`
}

type IngestConfig struct {
	ParseRecords          bool `yaml:"parse_records"`
	SkipParsedDirectories bool `yaml:"skip_parsed_directories"`
	FailFast              bool `yaml:"fail_fast"`
}

type LeaseConfig struct {
	StaleAfter          string `yaml:"stale_after"`
	BacklogReclaimAfter string `yaml:"backlog_reclaim_after"`
}

type ReorganizeConfig struct {
	Inbox string `yaml:"inbox"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, file, none
	File   string `yaml:"file"`   // used when output is "file"
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // Prometheus textfile written after each command
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Lease      LeaseConfig      `yaml:"lease"`
	Reorganize ReorganizeConfig `yaml:"reorganize"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

const (
	DefaultStaleAfter          = 6 * time.Hour
	DefaultBacklogReclaimAfter = 3 * time.Hour
)

// ParseDuration returns defaultDuration for an empty or invalid string.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "corpus.db",
		},
		Corpus: CorpusConfig{
			SourcesDir:   "./sources",
			SkipNames:    []string{"!UNSORT"},
			WorkspaceDir: "./runtime/temp",
		},
		Lease: LeaseConfig{
			StaleAfter:          "6h",
			BacklogReclaimAfter: "3h",
		},
		Reorganize: ReorganizeConfig{
			Inbox: "!UNSORT",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load reads YAML over the defaults. A nil or empty reader yields defaults.
// Environment overrides are applied last.
func Load(r io.Reader) (*Config, error) {
	cfg := defaults()

	if r != nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read config data: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads the file at path. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Load(nil)
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("CORPUS_DB_DRIVER", &c.Database.Driver)
	set("CORPUS_DB_DSN", &c.Database.DSN)
	set("CORPUS_SOURCES_DIR", &c.Corpus.SourcesDir)
	set("CORPUS_WORKSPACE_DIR", &c.Corpus.WorkspaceDir)
	set("CORPUS_LOG_LEVEL", &c.Logging.Level)
}

// Validate rejects values no component could act on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr", "none":
	case "file":
		if c.Logging.File == "" {
			return fmt.Errorf("logging output is file but no file is set")
		}
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("invalid tracing protocol %q", c.Tracing.Protocol)
	}
	if c.Corpus.SourcesDir == "" {
		return fmt.Errorf("corpus.sources_dir is required")
	}
	if c.Corpus.WorkspaceDir == "" {
		return fmt.Errorf("corpus.workspace_dir is required")
	}
	return nil
}

// StaleAfter is the lease age the unlock command reclaims by default.
func (c *Config) StaleAfter(logger *slog.Logger) time.Duration {
	return ParseDuration(c.Lease.StaleAfter, DefaultStaleAfter, logger)
}

// BacklogReclaimAfter is the lease age reclaimed before a backlog run.
func (c *Config) BacklogReclaimAfter(logger *slog.Logger) time.Duration {
	return ParseDuration(c.Lease.BacklogReclaimAfter, DefaultBacklogReclaimAfter, logger)
}
