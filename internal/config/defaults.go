package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultOpenSearchAddress   = "http://localhost:9200"
	DefaultRequestTimeout      = 30 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second

	DefaultIndexPrefix      = "chem-"
	DefaultShards           = 1
	DefaultReplicas         = 0
	DefaultFingerprintWidth = 2048

	DefaultChunkSize = 500
	DefaultWorkers   = 1

	DefaultSearchLimit = 100
	DefaultMaxLimit    = 10000

	DefaultKafkaTopic       = "chemsearch.records"
	DefaultKafkaGroupID     = "chemsearch-ingest"
	DefaultKafkaStartOffset = "earliest"
	DefaultKafkaMinBytes    = 1
	DefaultKafkaMaxBytes    = 10 << 20
	DefaultKafkaMaxWait     = 500 * time.Millisecond
	DefaultCommitInterval   = time.Second
	DefaultFlushInterval    = 2 * time.Second

	DefaultObjectStoreRegion = "us-east-1"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsAddr      = ":9090"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "chemsearch"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Fields
// the caller already set are left unchanged so explicit configuration always
// wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.OpenSearch.Addresses) == 0 {
		cfg.OpenSearch.Addresses = []string{DefaultOpenSearchAddress}
	}
	if cfg.OpenSearch.RequestTimeout == 0 {
		cfg.OpenSearch.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.OpenSearch.HealthCheckInterval == 0 {
		cfg.OpenSearch.HealthCheckInterval = DefaultHealthCheckInterval
	}

	// ── Index ─────────────────────────────────────────────────────────────────
	if cfg.Index.Prefix == "" {
		cfg.Index.Prefix = DefaultIndexPrefix
	}
	if cfg.Index.Shards == 0 {
		cfg.Index.Shards = DefaultShards
	}
	if cfg.Index.FingerprintWidth == 0 {
		cfg.Index.FingerprintWidth = DefaultFingerprintWidth
	}

	// ── Ingest ────────────────────────────────────────────────────────────────
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = DefaultChunkSize
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = DefaultWorkers
	}

	// ── Search ────────────────────────────────────────────────────────────────
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = DefaultSearchLimit
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = DefaultMaxLimit
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.StartOffset == "" {
		cfg.Kafka.StartOffset = DefaultKafkaStartOffset
	}
	if cfg.Kafka.MinBytes == 0 {
		cfg.Kafka.MinBytes = DefaultKafkaMinBytes
	}
	if cfg.Kafka.MaxBytes == 0 {
		cfg.Kafka.MaxBytes = DefaultKafkaMaxBytes
	}
	if cfg.Kafka.MaxWait == 0 {
		cfg.Kafka.MaxWait = DefaultKafkaMaxWait
	}
	if cfg.Kafka.CommitInterval == 0 {
		cfg.Kafka.CommitInterval = DefaultCommitInterval
	}
	if cfg.Kafka.FlushInterval == 0 {
		cfg.Kafka.FlushInterval = DefaultFlushInterval
	}

	// ── Object store ──────────────────────────────────────────────────────────
	if cfg.ObjectStore.Region == "" {
		cfg.ObjectStore.Region = DefaultObjectStoreRegion
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// NewDefaultConfig returns a Config with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
