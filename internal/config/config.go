// Package config defines the configuration structures for the chemsearch
// bridge.  No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// OpenSearchConfig holds search backend connection parameters.
type OpenSearchConfig struct {
	Addresses           []string      `mapstructure:"addresses"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	TLSEnabled          bool          `mapstructure:"tls_enabled"`
	TLSCertPath         string        `mapstructure:"tls_cert_path"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// IndexConfig controls index naming and the settings used on creation.
type IndexConfig struct {
	Prefix   string `mapstructure:"prefix"`
	Shards   int    `mapstructure:"shards"`
	Replicas int    `mapstructure:"replicas"`
	// FingerprintWidth is the exclusive upper bound on fingerprint bit
	// positions accepted for indexing.
	FingerprintWidth int `mapstructure:"fingerprint_width"`
}

// IngestConfig holds bulk ingest tunables.
type IngestConfig struct {
	ChunkSize        int     `mapstructure:"chunk_size"`
	Workers          int     `mapstructure:"workers"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second"` // 0 disables limiting
	Refresh          bool    `mapstructure:"refresh"`
	SkipErrors       bool    `mapstructure:"skip_errors"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit        int  `mapstructure:"default_limit"`
	MaxLimit            int  `mapstructure:"max_limit"`
	Verify              bool `mapstructure:"verify"`
	IncludeFingerprints bool `mapstructure:"include_fingerprints"`
}

// KafkaConfig holds streaming ingest consumer parameters.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	StartOffset    string        `mapstructure:"start_offset"` // "earliest" | "latest"
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	// FlushInterval caps how long the worker buffers messages before a
	// partial bulk batch is submitted.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// EnsureTopics creates the ingest and dead-letter topics at startup.
	EnsureTopics bool `mapstructure:"ensure_topics"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	TLSCertPath   string `mapstructure:"tls_cert_path"`
}

// ObjectStoreConfig holds the S3-compatible endpoint that ingest reads
// s3://bucket/key inputs from.
type ObjectStoreConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	OpenSearch  OpenSearchConfig  `mapstructure:"opensearch"`
	Index       IndexConfig       `mapstructure:"index"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Search      SearchConfig      `mapstructure:"search"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"json": true, "console": true}
	validStartOffset = map[string]bool{"earliest": true, "latest": true}

	validSASLMechanisms = map[string]bool{"PLAIN": true, "SCRAM-SHA-256": true, "SCRAM-SHA-512": true}
)

// Validate checks the configuration for missing or out-of-range values.  It
// is expected to run after ApplyDefaults, so only values an operator set
// explicitly can fail here.
func (c *Config) Validate() error {
	if len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses must not be empty")
	}
	for _, a := range c.OpenSearch.Addresses {
		if !strings.HasPrefix(a, "http://") && !strings.HasPrefix(a, "https://") {
			return fmt.Errorf("config: opensearch address %q must start with http:// or https://", a)
		}
	}
	if c.OpenSearch.RequestTimeout <= 0 {
		return fmt.Errorf("config: opensearch.request_timeout must be positive")
	}
	if c.OpenSearch.TLSEnabled && c.OpenSearch.TLSCertPath == "" {
		return fmt.Errorf("config: opensearch.tls_cert_path is required when tls_enabled is true")
	}

	if c.Index.Prefix == "" {
		return fmt.Errorf("config: index.prefix must not be empty")
	}
	if c.Index.Prefix != strings.ToLower(c.Index.Prefix) {
		return fmt.Errorf("config: index.prefix %q must be lowercase", c.Index.Prefix)
	}
	if c.Index.Shards < 1 {
		return fmt.Errorf("config: index.shards must be >= 1")
	}
	if c.Index.Replicas < 0 {
		return fmt.Errorf("config: index.replicas must be >= 0")
	}
	if c.Index.FingerprintWidth < 1 {
		return fmt.Errorf("config: index.fingerprint_width must be >= 1")
	}

	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("config: ingest.chunk_size must be >= 1")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("config: ingest.workers must be >= 1")
	}
	if c.Ingest.BatchesPerSecond < 0 {
		return fmt.Errorf("config: ingest.batches_per_second must be >= 0")
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("config: search.default_limit must be >= 1")
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("config: search.max_limit (%d) must be >= default_limit (%d)", c.Search.MaxLimit, c.Search.DefaultLimit)
	}

	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when brokers are set")
		}
		if c.Kafka.FlushInterval <= 0 {
			return fmt.Errorf("config: kafka.flush_interval must be positive")
		}
		if !validStartOffset[c.Kafka.StartOffset] {
			return fmt.Errorf("config: kafka.start_offset %q must be earliest or latest", c.Kafka.StartOffset)
		}
		if c.Kafka.SASLEnabled && !validSASLMechanisms[c.Kafka.SASLMechanism] {
			return fmt.Errorf("config: kafka.sasl_mechanism %q must be PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512", c.Kafka.SASLMechanism)
		}
		if c.Kafka.TLSEnabled && c.Kafka.TLSCertPath == "" {
			return fmt.Errorf("config: kafka.tls_cert_path is required when tls_enabled is true")
		}
	}

	if c.ObjectStore.Endpoint != "" && strings.Contains(c.ObjectStore.Endpoint, "://") {
		return fmt.Errorf("config: object_store.endpoint %q must be host[:port] without a scheme", c.ObjectStore.Endpoint)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("config: unsupported log level %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("config: unsupported log format %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("config: metrics.addr is required when metrics are enabled")
	}
	return nil
}
