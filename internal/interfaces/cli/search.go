package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/chemsearch/internal/domain/predicate"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// searchFlags are shared by every search subcommand.
type searchFlags struct {
	limit               int
	verify              bool
	noVerify            bool
	includeFingerprints bool
	where               []string
	min                 []string
	max                 []string
	nameLike            string
}

func (f *searchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.limit, "limit", "n", 0, "maximum hits (default: search.default_limit)")
	fl.BoolVar(&f.verify, "verify", false, "verify candidates with the chemistry engine (default: search.verify)")
	fl.BoolVar(&f.noVerify, "no-verify", false, "skip engine verification even when search.verify is set")
	fl.BoolVar(&f.includeFingerprints, "include-fingerprints", false, "return fingerprint fields with each hit")
	fl.StringArrayVar(&f.where, "where", nil, "metadata equality filter field=value (repeatable)")
	fl.StringArrayVar(&f.min, "min", nil, "inclusive lower bound field=value (repeatable)")
	fl.StringArrayVar(&f.max, "max", nil, "inclusive upper bound field=value (repeatable)")
	fl.StringVar(&f.nameLike, "name-like", "", "wildcard pattern on the record name")
}

// fieldPredicates translates the filter flags.
func (f *searchFlags) fieldPredicates() ([]predicate.Predicate, error) {
	var preds []predicate.Predicate
	for _, w := range f.where {
		k, v, err := splitAssignment(w)
		if err != nil {
			return nil, err
		}
		preds = append(preds, predicate.Equals(k, v))
	}
	for _, m := range f.min {
		k, v, err := splitAssignment(m)
		if err != nil {
			return nil, err
		}
		preds = append(preds, predicate.Range(k, predicate.Gte(v)))
	}
	for _, m := range f.max {
		k, v, err := splitAssignment(m)
		if err != nil {
			return nil, err
		}
		preds = append(preds, predicate.Range(k, predicate.Lte(v)))
	}
	if f.nameLike != "" {
		preds = append(preds, predicate.Wildcard(record.FieldName, f.nameLike))
	}
	return preds, nil
}

// splitAssignment parses field=value.  Numeric and boolean values keep their
// type so range filters compare numerically.
func splitAssignment(s string) (string, interface{}, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", nil, errors.Newf(errors.ErrCodeValidation, "expected field=value, got %q", s)
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return k, i, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return k, f, nil
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return k, b, nil
	}
	return k, v, nil
}

type hitRow struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name,omitempty"`
	Score       float64                `json:"score"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	SimBits     []int                  `json:"sim_fingerprint,omitempty"`
	SubBits     []int                  `json:"sub_fingerprint,omitempty"`
	ContentHash []string               `json:"content_hash,omitempty"`
}

type searchResult struct {
	Index   string   `json:"index"`
	Total   int64    `json:"total"`
	Dropped int      `json:"dropped"`
	Hits    []hitRow `json:"hits"`
}

func (r searchResult) TableHeaders() []string { return []string{"#", "ID", "NAME", "SCORE"} }

func (r searchResult) TableRows() [][]string {
	rows := make([][]string, len(r.Hits))
	for i, h := range r.Hits {
		rows[i] = []string{fmt.Sprint(i + 1), h.ID, h.Name, strconv.FormatFloat(h.Score, 'f', 4, 64)}
	}
	return rows
}

func newSearchCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query records by similarity, substructure or exact match",
	}
	cmd.AddCommand(
		newSimilarityCmd(deps),
		newChemistryCmd(deps, "substructure", "Find records containing the query structure",
			func(q *record.Record) predicate.Predicate { return predicate.Substructure(q) }),
		newChemistryCmd(deps, "exact", "Find records identical to the query structure",
			func(q *record.Record) predicate.Predicate { return predicate.Exact(q) }),
		newFilterCmd(deps),
	)
	return cmd
}

func newSimilarityCmd(deps Deps) *cobra.Command {
	var (
		sf          searchFlags
		metric      string
		threshold   float64
		alpha, beta float64
	)
	cmd := &cobra.Command{
		Use:   "similarity STRUCTURE",
		Short: "Rank records by fingerprint similarity to STRUCTURE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, err := similarityBuilder(metric, threshold, alpha, beta)
			if err != nil {
				return err
			}
			return runSearch(cmd, deps, &sf, args[0], build)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVarP(&metric, "metric", "m", "tanimoto", "similarity metric: tanimoto|tversky|euclidean")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.7, "minimum similarity in (0, 1]")
	cmd.Flags().Float64Var(&alpha, "alpha", 1, "tversky weight of query-only bits")
	cmd.Flags().Float64Var(&beta, "beta", 1, "tversky weight of candidate-only bits")
	return cmd
}

func similarityBuilder(metric string, threshold, alpha, beta float64) (func(*record.Record) predicate.Predicate, error) {
	switch strings.ToLower(metric) {
	case "tanimoto":
		return func(q *record.Record) predicate.Predicate { return predicate.Tanimoto(q, threshold) }, nil
	case "tversky":
		return func(q *record.Record) predicate.Predicate { return predicate.Tversky(q, threshold, alpha, beta) }, nil
	case "euclidean":
		return func(q *record.Record) predicate.Predicate { return predicate.Euclidean(q, threshold) }, nil
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown metric %q (want tanimoto, tversky or euclidean)", metric)
	}
}

func newChemistryCmd(deps Deps, use, short string, build func(*record.Record) predicate.Predicate) *cobra.Command {
	var sf searchFlags
	cmd := &cobra.Command{
		Use:   use + " STRUCTURE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, deps, &sf, args[0], build)
		},
	}
	sf.register(cmd)
	return cmd
}

// newFilterCmd runs field predicates alone.
func newFilterCmd(deps Deps) *cobra.Command {
	var sf searchFlags
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "List records matching metadata filters only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, deps, &sf, "", nil)
		},
	}
	sf.register(cmd)
	return cmd
}

func runSearch(cmd *cobra.Command, deps Deps, sf *searchFlags, structure string, build func(*record.Record) predicate.Predicate) error {
	preds, err := sf.fieldPredicates()
	if err != nil {
		return err
	}
	return withRepository(cmd, deps, func(ctx context.Context, cc *CLIContext, repo search.Repository) error {
		if build != nil {
			st, err := cc.Engine.Parse(structure, repo.Kind())
			if err != nil {
				return err
			}
			query, err := record.Build(cc.Engine, st, repo.Kind())
			if err != nil {
				return err
			}
			preds = append([]predicate.Predicate{build(query)}, preds...)
		}

		verify := cc.Config.Search.Verify
		if cmd.Flags().Changed("verify") {
			verify = sf.verify
		}
		if sf.noVerify {
			verify = false
		}
		limit := sf.limit
		if limit <= 0 {
			limit = cc.Config.Search.DefaultLimit
		}
		if m := cc.Config.Search.MaxLimit; m > 0 && limit > m {
			limit = m
		}

		result, err := collectHits(ctx, repo, search.FilterRequest{
			Predicates:          preds,
			Limit:               limit,
			Verify:              verify,
			IncludeFingerprints: sf.includeFingerprints || cc.Config.Search.IncludeFingerprints,
		})
		if err != nil {
			return err
		}
		cc.Logger.Debug("search completed",
			logging.String("command", cmd.Name()),
			logging.Int("hits", len(result.Hits)),
			logging.Int("dropped", result.Dropped))
		return PrintResult(cmd, result)
	})
}

func collectHits(ctx context.Context, repo search.Repository, req search.FilterRequest) (searchResult, error) {
	hits, err := repo.Filter(ctx, req)
	if err != nil {
		return searchResult{}, err
	}
	defer hits.Close()

	result := searchResult{Index: repo.IndexName(), Hits: []hitRow{}}
	for hits.Next() {
		rec := hits.Record()
		row := hitRow{
			ID:       rec.StorageID(),
			Name:     rec.Name(),
			Score:    hits.Score(),
			Metadata: rec.Metadata(),
		}
		if req.IncludeFingerprints {
			row.SimBits = rec.SimFingerprint().Bits()
			row.SubBits = rec.SubFingerprint().Bits()
			row.ContentHash = rec.ContentHash()
		}
		result.Hits = append(result.Hits, row)
	}
	if err := hits.Err(); err != nil {
		return searchResult{}, err
	}
	result.Total = hits.Total()
	result.Dropped = hits.Dropped()
	return result, nil
}
