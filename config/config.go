package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Exporter ExporterConfig `yaml:"exporter"`
}

// ExporterConfig is the project configuration.
type ExporterConfig struct {
	Splunk   SplunkConfig   `yaml:"splunk"`
	HotStore HotStoreConfig `yaml:"hot_store"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SplunkConfig controls the upstream search client.
type SplunkConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// When set, credentials are fetched from AWS Secrets Manager and
	// override the static fields above.
	SecretName string `yaml:"secret_name"`

	Query          string        `yaml:"query"`
	QueryFile      string        `yaml:"query_file"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	InsecureTLS    bool          `yaml:"insecure_tls"`
}

// HotStoreConfig controls the Redis short-retention store.
type HotStoreConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	RetentionDays int           `yaml:"retention_days"`
	ScanBatch     int64         `yaml:"scan_batch"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
}

// ArchiveConfig controls the long-retention snapshot archive.
type ArchiveConfig struct {
	Backend string `yaml:"backend"` // s3|local

	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// Path is the root directory for the local backend.
	Path string `yaml:"path"`

	OpTimeout time.Duration `yaml:"op_timeout"`
}

// PipelineConfig controls the run controller.
type PipelineConfig struct {
	Workers      int `yaml:"workers"`
	LookbackDays int `yaml:"lookback_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
