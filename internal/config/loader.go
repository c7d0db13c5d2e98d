package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all bridge settings.
const envPrefix = "CHEMSEARCH"

// envKeys lists every leaf key so that AutomaticEnv can resolve it during
// Unmarshal even when the config file does not mention it.
var envKeys = []string{
	"opensearch.addresses", "opensearch.username", "opensearch.password",
	"opensearch.tls_enabled", "opensearch.tls_cert_path",
	"opensearch.request_timeout", "opensearch.health_check_interval",
	"index.prefix", "index.shards", "index.replicas", "index.fingerprint_width",
	"ingest.chunk_size", "ingest.workers", "ingest.batches_per_second",
	"ingest.refresh", "ingest.skip_errors",
	"search.default_limit", "search.max_limit", "search.verify", "search.include_fingerprints",
	"kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.start_offset",
	"kafka.min_bytes", "kafka.max_bytes", "kafka.max_wait", "kafka.commit_interval",
	"kafka.flush_interval", "kafka.ensure_topics",
	"kafka.sasl_enabled", "kafka.sasl_mechanism", "kafka.sasl_username", "kafka.sasl_password",
	"kafka.tls_enabled", "kafka.tls_cert_path",
	"object_store.endpoint", "object_store.access_key_id", "object_store.secret_access_key",
	"object_store.use_ssl", "object_store.region",
	"log.level", "log.format", "log.output_paths",
	"metrics.enabled", "metrics.addr", "metrics.path", "metrics.namespace",
}

// newViper builds a Viper instance with YAML file type, the CHEMSEARCH_ env
// prefix and a "." → "_" key replacer, so "opensearch.addresses" resolves to
// CHEMSEARCH_OPENSEARCH_ADDRESSES.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges CHEMSEARCH_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from CHEMSEARCH_* environment variables alone.
//
//	CHEMSEARCH_<SECTION>_<FIELD>   e.g. CHEMSEARCH_INGEST_CHUNK_SIZE
//
// List values are comma separated.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrEnv loads configPath when it is non-empty and falls back to
// LoadFromEnv otherwise.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

// Watch re-reads configPath whenever it is written and passes the reloaded
// and validated configuration to onChange.  A file that fails to load or
// validate is reported through the error argument and the previous
// configuration should stay in effect.  Watching lasts for the life of the
// process.
func Watch(configPath string, onChange func(*Config, error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		onChange(unmarshalAndFinalize(v))
	})
	v.WatchConfig()
	return nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on any error.  Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
