//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/predicate"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/domain/search"
)

var molecules = map[string]string{
	"ethanol":  "CCO",
	"propanol": "CCCO",
	"benzene":  "c1ccccc1",
	"phenol":   "Oc1ccccc1",
	"toluene":  "Cc1ccccc1",
}

func names(t *testing.T, hits *search.Hits) []string {
	t.Helper()
	recs, err := hits.All()
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name()
	}
	return out
}

func query(t *testing.T, eng chem.Engine, text string) *record.Record {
	t.Helper()
	st, err := eng.Parse(text, chem.KindMolecule)
	require.NoError(t, err)
	rec, err := record.Build(eng, st, chem.KindMolecule)
	require.NoError(t, err)
	return rec
}

func TestRepository_RoundTrip(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	repo, eng := newRepository(t, openSearchURL(t), chem.KindMolecule)

	require.NoError(t, repo.CreateIndex(ctx))
	require.NoError(t, repo.CreateIndex(ctx))

	summary, err := repo.IndexRecords(ctx,
		record.NewSliceSource(buildRecords(t, eng, chem.KindMolecule, molecules)...),
		search.IngestOptions{ChunkSize: 2, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, len(molecules), summary.Succeeded)
	assert.Equal(t, 3, summary.Batches)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(molecules)), n)

	t.Run("exact", func(t *testing.T) {
		hits, err := repo.Filter(ctx, search.FilterRequest{
			Predicates: []predicate.Predicate{predicate.Exact(query(t, eng, "OCC"))},
			Verify:     true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ethanol"}, names(t, hits))
	})

	t.Run("substructure", func(t *testing.T) {
		hits, err := repo.Filter(ctx, search.FilterRequest{
			Predicates: []predicate.Predicate{predicate.Substructure(query(t, eng, "c1ccccc1"))},
			Verify:     true,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"benzene", "phenol", "toluene"}, names(t, hits))
	})

	t.Run("tanimoto", func(t *testing.T) {
		hits, err := repo.Filter(ctx, search.FilterRequest{
			Predicates: []predicate.Predicate{predicate.Tanimoto(query(t, eng, "CCO"), 0.2)},
		})
		require.NoError(t, err)
		require.True(t, hits.Next())
		assert.Equal(t, "ethanol", hits.Record().Name())
		assert.InDelta(t, 1.0, hits.Score(), 1e-6)
		for hits.Next() {
			assert.LessOrEqual(t, hits.Score(), 1.0)
			assert.GreaterOrEqual(t, hits.Score(), 0.2)
		}
		require.NoError(t, hits.Err())
	})

	t.Run("field filter", func(t *testing.T) {
		hits, err := repo.Filter(ctx, search.FilterRequest{
			Predicates: []predicate.Predicate{
				predicate.Substructure(query(t, eng, "c1ccccc1")),
				predicate.Wildcard(record.FieldName, "*ol"),
			},
			Verify: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"phenol"}, names(t, hits))
	})

	t.Run("rehydrate", func(t *testing.T) {
		hits, err := repo.Filter(ctx, search.FilterRequest{
			Predicates: []predicate.Predicate{predicate.Equals(record.FieldName, "toluene")},
		})
		require.NoError(t, err)
		recs, err := hits.All()
		require.NoError(t, err)
		require.Len(t, recs, 1)
		st, err := recs[0].Rehydrate(eng)
		require.NoError(t, err)
		want, err := eng.Parse("Cc1ccccc1", chem.KindMolecule)
		require.NoError(t, err)
		match, err := eng.ExactMatch(st, want)
		require.NoError(t, err)
		assert.True(t, match)
	})

	require.NoError(t, repo.DeleteAllRecords(ctx))
	hits, err := repo.Filter(ctx, search.FilterRequest{
		Predicates: []predicate.Predicate{predicate.Equals(record.FieldName, "toluene")},
	})
	require.NoError(t, err)
	assert.Empty(t, names(t, hits))
}
