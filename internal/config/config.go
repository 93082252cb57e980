// Package config loads and validates engine configuration from YAML,
// with a custom Duration scalar type for human-readable values like "5m".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// EngineConfig holds the top-level knobs from the configuration table:
// data_dir, memory_buffer_size, flush_interval_seconds, archival_age_days,
// and max_block_points.
type EngineConfig struct {
	DataDir               string   `yaml:"data_dir"`
	MemoryBufferSize      int      `yaml:"memory_buffer_size"`
	FlushInterval         Duration `yaml:"flush_interval_seconds"`
	FlushAge              Duration `yaml:"flush_age"`
	ArchiveInterval       Duration `yaml:"archive_interval_seconds"`
	ArchivalAge           Duration `yaml:"archival_age_days"`
	MaxBlockPoints        int      `yaml:"max_block_points"`
	OrphanBlockQuarantine bool     `yaml:"orphan_block_quarantine"`
}

// ArchiveConfig describes the BlobStore location for ArchiveTier. Backend
// selects which Store implementation to construct: "local" (a directory
// on the same filesystem, for single-node deployments without an object
// store) or "s3" (any S3-compatible endpoint).
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Backend         string `yaml:"backend"`
	LocalDir        string `yaml:"local_dir"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// MetadataConfig controls the disk tier's auxiliary bbolt time-range
// index, used to prune candidate blocks on series with many blocks
// without re-parsing every manifest entry.
type MetadataConfig struct {
	IndexPath string `yaml:"index_path"`
	NoSync    bool   `yaml:"no_sync"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and validates a YAML configuration file, starting from
// DefaultConfig so unset keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Engine.DataDir == "" {
		return fmt.Errorf("engine.data_dir is required")
	}
	if c.Engine.MemoryBufferSize <= 0 {
		return fmt.Errorf("engine.memory_buffer_size must be > 0")
	}
	if c.Engine.FlushInterval <= 0 {
		return fmt.Errorf("engine.flush_interval_seconds must be > 0")
	}
	if c.Engine.MaxBlockPoints <= 0 {
		return fmt.Errorf("engine.max_block_points must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "local":
			if c.Archive.LocalDir == "" {
				return fmt.Errorf("archive.local_dir is required when archive.backend is local")
			}
		case "s3":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket is required when archive.backend is s3")
			}
		default:
			return fmt.Errorf("archive.backend must be \"local\" or \"s3\", got %q", c.Archive.Backend)
		}
	}
	if c.Metadata.IndexPath == "" {
		return fmt.Errorf("metadata.index_path is required")
	}
	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

