package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
)

type indexStatus struct {
	Index string `json:"index"`
	Kind  string `json:"kind"`
	Count *int64 `json:"count,omitempty"`
	State string `json:"state,omitempty"`
}

func (s indexStatus) TableHeaders() []string { return []string{"INDEX", "KIND", "STATE", "COUNT"} }

func (s indexStatus) TableRows() [][]string {
	count := ""
	if s.Count != nil {
		count = fmt.Sprint(*s.Count)
	}
	return [][]string{{s.Index, s.Kind, s.State, count}}
}

func newIndexCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the record index of one kind",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create the index with its fingerprint mapping (no-op when it exists)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRepository(cmd, deps, func(ctx context.Context, cc *CLIContext, repo search.Repository) error {
					if err := repo.CreateIndex(ctx); err != nil {
						return err
					}
					cc.Logger.Info("index ready", logging.String("index", repo.IndexName()))
					return PrintResult(cmd, indexStatus{Index: repo.IndexName(), Kind: string(repo.Kind()), State: "ready"})
				})
			},
		},
		&cobra.Command{
			Use:   "drop",
			Short: "Delete the index and every record in it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRepository(cmd, deps, func(ctx context.Context, cc *CLIContext, repo search.Repository) error {
					if err := repo.DeleteAllRecords(ctx); err != nil {
						return err
					}
					cc.Logger.Warn("index dropped", logging.String("index", repo.IndexName()))
					return PrintResult(cmd, indexStatus{Index: repo.IndexName(), Kind: string(repo.Kind()), State: "dropped"})
				})
			},
		},
		&cobra.Command{
			Use:   "count",
			Short: "Count the records in the index",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRepository(cmd, deps, func(ctx context.Context, _ *CLIContext, repo search.Repository) error {
					n, err := repo.Count(ctx)
					if err != nil {
						return err
					}
					return PrintResult(cmd, indexStatus{Index: repo.IndexName(), Kind: string(repo.Kind()), Count: &n})
				})
			},
		},
	)
	return cmd
}
