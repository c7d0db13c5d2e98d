package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
)

type ingestOptions struct {
	file       string
	format     string
	chunkSize  int
	workers    int
	refresh    bool
	skipErrors bool
}

type ingestReport struct {
	Index     string `json:"index"`
	Batches   int    `json:"batches"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

func (r ingestReport) TableHeaders() []string {
	return []string{"INDEX", "BATCHES", "SUCCEEDED", "FAILED", "SKIPPED"}
}

func (r ingestReport) TableRows() [][]string {
	return [][]string{{r.Index, fmt.Sprint(r.Batches), fmt.Sprint(r.Succeeded), fmt.Sprint(r.Failed), fmt.Sprint(r.Skipped)}}
}

func newIngestCmd(deps Deps) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bulk-index structures from a file",
		Long: "Reads one structure per line and indexes it.  The input is a local\n" +
			"path, - for stdin, or s3://bucket/key.  Plain files hold\n" +
			"\"<structure> [name]\" lines; .jsonl files hold structure messages of the\n" +
			"form {\"structure\",\"kind\",\"name\",\"metadata\"}.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepository(cmd, deps, func(ctx context.Context, cc *CLIContext, repo search.Repository) error {
				return runIngest(ctx, cmd, cc, deps, repo, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "input file, - for stdin, or s3://bucket/key (required)")
	f.StringVar(&opts.format, "format", "", "input format: smi|jsonl (default: by extension)")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "records per bulk request (default: ingest.chunk_size)")
	f.IntVar(&opts.workers, "workers", 0, "concurrent bulk requests (default: ingest.workers)")
	f.BoolVar(&opts.refresh, "refresh", false, "make records searchable before returning")
	f.BoolVar(&opts.skipErrors, "skip-errors", false, "skip unparsable lines and keep records without fingerprints")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, cc *CLIContext, deps Deps, repo search.Repository, opts *ingestOptions) error {
	in, err := openInput(ctx, cmd, cc, deps, opts.file)
	if err != nil {
		return err
	}
	defer in.Close()
	format := opts.format
	if format == "" {
		format = detectFormat(opts.file)
	}

	skip := opts.skipErrors || cc.Config.Ingest.SkipErrors
	src, err := newFileSource(in, format, cc.Engine, repo.Kind(), skip, cc.Logger)
	if err != nil {
		return err
	}

	ingest := search.IngestOptions{
		ChunkSize:        cc.Config.Ingest.ChunkSize,
		Workers:          cc.Config.Ingest.Workers,
		BatchesPerSecond: cc.Config.Ingest.BatchesPerSecond,
		Refresh:          opts.refresh || cc.Config.Ingest.Refresh,
		OnItem: func(res search.ItemResult) {
			if res.OK() || res.Record == nil {
				return
			}
			cc.Logger.Warn("record rejected",
				logging.String("name", res.Record.Name()),
				logging.Err(res.Err))
		},
	}
	if opts.chunkSize > 0 {
		ingest.ChunkSize = opts.chunkSize
	}
	if opts.workers > 0 {
		ingest.Workers = opts.workers
	}

	summary, err := repo.IndexRecords(ctx, src, ingest)
	report := ingestReport{Index: repo.IndexName(), Skipped: src.Skipped()}
	if summary != nil {
		report.Batches, report.Succeeded, report.Failed = summary.Batches, summary.Succeeded, summary.Failed
	}
	if printErr := PrintResult(cmd, report); printErr != nil && err == nil {
		err = printErr
	}
	return err
}
