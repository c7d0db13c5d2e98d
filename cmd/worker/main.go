// Command worker consumes structure messages from Kafka and bulk-indexes them
// into the record index of one kind.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/chemsearch/internal/config"
	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/chem/linear"
	"github.com/turtacn/chemsearch/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/chemsearch/internal/infrastructure/search/opensearch"
	"github.com/turtacn/chemsearch/internal/interfaces/worker"
)

const shutdownTimeout = 10 * time.Second

// watchLogLevel applies log.level changes from the config file without a
// restart.  Other settings take effect on the next start.
func watchLogLevel(path string, logger logging.Logger) {
	leveled, ok := logger.(logging.Leveled)
	if !ok {
		return
	}
	err := config.Watch(path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload rejected", logging.Err(err))
			return
		}
		leveled.SetLevel(cfg.Log.Level)
		logger.Info("log level updated", logging.String("level", cfg.Log.Level))
	})
	if err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}
}

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: CHEMSEARCH_* env only)")
	kindFlag := flag.String("kind", string(chem.KindMolecule), "record kind to ingest (molecule, reaction)")
	flag.Parse()

	if err := run(*configPath, *kindFlag); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, kindName string) error {
	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is not configured")
	}
	kind, err := chem.ParseKind(kindName)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetDefault(logger)
	if configPath != "" {
		watchLogLevel(configPath, logger)
	}
	logger.Info("starting chemsearch worker",
		logging.String("kind", string(kind)),
		logging.String("topic", cfg.Kafka.Topic),
		logging.Strings("brokers", cfg.Kafka.Brokers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := prometheus.NewNopBridgeMetrics()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		metrics = prometheus.NewBridgeMetrics(collector)
		metricsSrv = startMetricsServer(cfg.Metrics, collector, logger)
	}

	client, err := opensearch.NewClient(opensearch.ClientConfig{
		Addresses:           cfg.OpenSearch.Addresses,
		Username:            cfg.OpenSearch.Username,
		Password:            cfg.OpenSearch.Password,
		TLSEnabled:          cfg.OpenSearch.TLSEnabled,
		TLSCertPath:         cfg.OpenSearch.TLSCertPath,
		RequestTimeout:      cfg.OpenSearch.RequestTimeout,
		HealthCheckInterval: cfg.OpenSearch.HealthCheckInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer client.Close()

	engine := linear.New()
	repo, err := opensearch.NewRecordRepository(client, kind,
		opensearch.WithIndexPrefix(cfg.Index.Prefix),
		opensearch.WithShards(cfg.Index.Shards, cfg.Index.Replicas),
		opensearch.WithEngine(engine),
		opensearch.WithFingerprintWidth(cfg.Index.FingerprintWidth),
		opensearch.WithMetrics(metrics),
		opensearch.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if cfg.Kafka.EnsureTopics {
		if err := ensureTopics(ctx, cfg.Kafka, logger); err != nil {
			return err
		}
	}

	src, err := kafka.NewRecordSource(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		Topic:           cfg.Kafka.Topic,
		GroupID:         cfg.Kafka.GroupID,
		StartOffset:     cfg.Kafka.StartOffset,
		MinBytes:        cfg.Kafka.MinBytes,
		MaxBytes:        cfg.Kafka.MaxBytes,
		MaxWait:         cfg.Kafka.MaxWait,
		CommitInterval:  cfg.Kafka.CommitInterval,
		FlushInterval:   cfg.Kafka.FlushInterval,
		SkipErrors:      cfg.Ingest.SkipErrors,
		DeadLetterTopic: kafka.DeadLetterTopic(cfg.Kafka.Topic),
		Security:        kafkaSecurity(cfg.Kafka),
	}, engine, kind, logger)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	defer src.Close()

	w, err := worker.New(repo, src, search.IngestOptions{
		ChunkSize:        cfg.Ingest.ChunkSize,
		Workers:          cfg.Ingest.Workers,
		BatchesPerSecond: cfg.Ingest.BatchesPerSecond,
		Refresh:          cfg.Ingest.Refresh,
	}, worker.WithLogger(logger))
	if err != nil {
		return err
	}

	runErr := w.Run(ctx)

	st := w.Stats()
	m := src.Metrics()
	logger.Info("chemsearch worker stopped",
		logging.Int64("rounds", st.Rounds),
		logging.Int64("succeeded", st.Succeeded),
		logging.Int64("failed", st.Failed),
		logging.Int64("consumed", m.MessagesConsumed.Load()),
		logging.Int64("dead_lettered", m.MessagesDeadLettered.Load()))

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", logging.Err(err))
		}
	}
	return runErr
}

func ensureTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Brokers, kafkaSecurity(cfg), logger)
	if err != nil {
		return fmt.Errorf("kafka topic manager: %w", err)
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.IngestTopics(cfg.Topic, 0, 0))
}

func kafkaSecurity(cfg config.KafkaConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		SASLEnabled:   cfg.SASLEnabled,
		SASLMechanism: cfg.SASLMechanism,
		SASLUsername:  cfg.SASLUsername,
		SASLPassword:  cfg.SASLPassword,
		TLSEnabled:    cfg.TLSEnabled,
		TLSCertPath:   cfg.TLSCertPath,
	}
}

func startMetricsServer(cfg config.MetricsConfig, collector prometheus.MetricsCollector, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", logging.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", logging.Err(err))
		}
	}()
	return srv
}
