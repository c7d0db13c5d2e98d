// Package cli implements the chemsearch command line: index administration,
// file ingest, Kafka enqueue and chemistry searches against one backend.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/config"
	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/chem/linear"
	"github.com/turtacn/chemsearch/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/internal/infrastructure/search/opensearch"
	"github.com/turtacn/chemsearch/internal/infrastructure/storage/minio"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
	Kind         string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Engine       chem.Engine
	Kind         chem.Kind
	OutputFormat string
	Timeout      time.Duration
}

// StructurePublisher is the part of kafka.Producer the enqueue command uses.
type StructurePublisher interface {
	PublishStructures(ctx context.Context, topic string, msgs []kafka.StructureMessage) (*kafka.BatchResult, error)
	Close() error
}

// ObjectOpener reads s3://bucket/key inputs.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Deps are the backends commands talk to.  Tests replace the factories.
type Deps struct {
	Engine         chem.Engine
	NewRepository  func(cc *CLIContext) (search.Repository, io.Closer, error)
	NewPublisher   func(cc *CLIContext) (StructurePublisher, error)
	NewObjectStore func(cc *CLIContext) (ObjectOpener, error)
}

// DefaultDeps wires the linear engine, the OpenSearch repository, the
// Kafka producer and the MinIO object reader.
func DefaultDeps() Deps {
	return Deps{
		Engine:         linear.New(),
		NewRepository:  openSearchRepository,
		NewPublisher:   kafkaPublisher,
		NewObjectStore: minioObjectStore,
	}
}

func openSearchRepository(cc *CLIContext) (search.Repository, io.Closer, error) {
	cfg := cc.Config
	client, err := opensearch.NewClient(opensearch.ClientConfig{
		Addresses:      cfg.OpenSearch.Addresses,
		Username:       cfg.OpenSearch.Username,
		Password:       cfg.OpenSearch.Password,
		TLSEnabled:     cfg.OpenSearch.TLSEnabled,
		TLSCertPath:    cfg.OpenSearch.TLSCertPath,
		RequestTimeout: cfg.OpenSearch.RequestTimeout,
	}, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	repo, err := opensearch.NewRecordRepository(client, cc.Kind,
		opensearch.WithIndexPrefix(cfg.Index.Prefix),
		opensearch.WithShards(cfg.Index.Shards, cfg.Index.Replicas),
		opensearch.WithEngine(cc.Engine),
		opensearch.WithFingerprintWidth(cfg.Index.FingerprintWidth),
		opensearch.WithLogger(cc.Logger),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return repo, client, nil
}

func kafkaPublisher(cc *CLIContext) (StructurePublisher, error) {
	if len(cc.Config.Kafka.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka.brokers is not configured")
	}
	k := cc.Config.Kafka
	p, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: k.Brokers,
		Security: kafka.SecurityConfig{
			SASLEnabled:   k.SASLEnabled,
			SASLMechanism: k.SASLMechanism,
			SASLUsername:  k.SASLUsername,
			SASLPassword:  k.SASLPassword,
			TLSEnabled:    k.TLSEnabled,
			TLSCertPath:   k.TLSCertPath,
		},
	}, cc.Logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func minioObjectStore(cc *CLIContext) (ObjectOpener, error) {
	store := cc.Config.ObjectStore
	client, err := minio.NewClient(minio.Config{
		Endpoint:        store.Endpoint,
		AccessKeyID:     store.AccessKeyID,
		SecretAccessKey: store.SecretAccessKey,
		UseSSL:          store.UseSSL,
		Region:          store.Region,
	}, cc.Logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewRootCommand creates the root command with every subcommand registered.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chemsearch",
		Short: "Chemical similarity and substructure search over OpenSearch",
		Long: "chemsearch indexes molecules and reactions as fingerprint documents in an\n" +
			"OpenSearch-compatible backend and answers similarity, substructure and\n" +
			"exact-match queries against them.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./chemsearch.yaml, then CHEMSEARCH_* env)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "table", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	pf.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "global operation timeout")
	pf.StringVarP(&opts.Kind, "kind", "k", string(chem.KindMolecule), "record kind (molecule, reaction)")

	cmd.AddCommand(
		newIndexCmd(deps),
		newIngestCmd(deps),
		newEnqueueCmd(deps),
		newSearchCmd(deps),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions, deps Deps) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	kind, err := chem.ParseKind(opts.Kind)
	if err != nil {
		return err
	}

	cc := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		Engine:       deps.Engine,
		Kind:         kind,
		OutputFormat: opts.OutputFormat,
		Timeout:      opts.Timeout,
	}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))
	return nil
}

// initConfig loads configuration with priority: flag path > ./chemsearch.yaml >
// ~/.chemsearch/config.yaml > environment only.
func initConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	searchPaths := []string{"./chemsearch.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".chemsearch", "config.yaml"))
	}
	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.Load(p)
		}
	}
	return config.LoadFromEnv()
}

// initLogger logs to stderr so command output on stdout stays parseable.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cc, nil
}

// withRepository opens the repository for the selected kind, runs fn under
// the global timeout and closes the backend connection afterwards.
func withRepository(cmd *cobra.Command, deps Deps, fn func(ctx context.Context, cc *CLIContext, repo search.Repository) error) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	repo, closer, err := deps.NewRepository(cc)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
	defer cancel()
	return fn(ctx, cc, repo)
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand(DefaultDeps())
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// PrintResult outputs data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}
	switch strings.ToLower(cc.OutputFormat) {
	case "json":
		return printJSON(cmd, data)
	case "table":
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

func printTable(cmd *cobra.Command, data interface{}) error {
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(headers))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
