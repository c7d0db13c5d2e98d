package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/pkg/errors"
)

func TestCompile_NoPredicatesMatchesAll(t *testing.T) {
	c, err := Compile()
	require.NoError(t, err)
	assert.Equal(t, "filter", c.Label)
	assert.False(t, c.Scored)
	assert.Equal(t, map[string]interface{}{"match_all": map[string]interface{}{}}, c.Query())
}

func TestCompile_RejectsTwoChemistryPredicates(t *testing.T) {
	target := targetRecord(t, 1, 2, 3)
	cases := map[string][]Predicate{
		"tanimoto+substructure": {Tanimoto(target, 0.5), Substructure(target)},
		"exact+exact":           {Exact(target), Exact(target)},
		"tversky+euclidean":     {Tversky(target, 0.5, 1, 1), Euclidean(target, 0.5)},
	}
	for name, preds := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Compile(preds...)
			assert.Nil(t, c)
			assert.True(t, errors.IsInvalidPredicate(err))
		})
	}
}

func TestCompile_NilPredicate(t *testing.T) {
	_, err := Compile(Equals("name", "x"), nil)
	assert.True(t, errors.IsInvalidPredicate(err))
}

func TestCompile_ChemistryWithFieldPredicates(t *testing.T) {
	target := targetRecord(t, 1, 2, 3, 4)
	c, err := Compile(
		Equals("source", "pubchem"),
		Tanimoto(target, 0.8),
		Range("mw", Gte(100), Lt(500)),
		Wildcard("name", "eth*"),
	)
	require.NoError(t, err)
	assert.Equal(t, "tanimoto", c.Label)
	assert.Len(t, c.Filter, 3)

	b, _ := scriptScoreBool(t, c.Query())
	assert.Len(t, b["should"], 4)
	assert.Equal(t, c.Filter, b["filter"])
}

func TestExact_Compile(t *testing.T) {
	c, err := Compile(Exact(targetRecord(t, 7, 11)))
	require.NoError(t, err)
	assert.Equal(t, "exact", c.Label)
	assert.False(t, c.Scored)
	assert.Equal(t, []Clause{
		{"term": map[string]interface{}{"sub_fingerprint": 7}},
		{"term": map[string]interface{}{"sub_fingerprint": 11}},
	}, c.Must)
	assert.Empty(t, c.Should)
	require.NotNil(t, c.MinScore)
	assert.Equal(t, 1.0, *c.MinScore)

	b, script := scriptScoreBool(t, c.Query())
	assert.Len(t, b["must"], 2)
	params := script["params"].(map[string]interface{})
	assert.Equal(t, "exact", params[ParamMetric])
	assert.Equal(t, "sub_fingerprint_len", params[ParamLenField])
}

func TestExact_ScreeningScore(t *testing.T) {
	m, err := MetricFromParams(map[string]interface{}{ParamMetric: "exact"})
	require.NoError(t, err)
	// all must clauses matched and no extra bits
	assert.Equal(t, 1.0, m.ScoreCounts(2, 2, 2))
	// superset candidate
	assert.Less(t, m.ScoreCounts(2, 2, 5), 1.0)
}

func TestSubstructure_Compile(t *testing.T) {
	c, err := Compile(Substructure(targetRecord(t, 3, 5, 8)))
	require.NoError(t, err)
	assert.Equal(t, "substructure", c.Label)
	assert.Len(t, c.Must, 3)
	assert.Nil(t, c.Script)
	assert.Nil(t, c.MinScore)

	q := c.Query()
	b := q["bool"].(map[string]interface{})
	assert.Len(t, b["must"], 3)
}

func TestMatchPredicates_EmptyTarget(t *testing.T) {
	empty := targetRecord(t)
	for _, p := range []Predicate{Exact(empty), Substructure(empty)} {
		c, err := Compile(p, Equals("source", "x"))
		require.NoError(t, err)
		assert.True(t, c.MatchNone, p.Name())
		assert.Contains(t, c.Query(), "match_none")
	}
}

func TestMatchPredicates_NilTarget(t *testing.T) {
	_, err := Compile(Exact(nil))
	assert.True(t, errors.IsInvalidPredicate(err))
	_, err = Compile(Substructure(nil))
	assert.True(t, errors.IsInvalidPredicate(err))
}

func TestFieldPredicates_Render(t *testing.T) {
	c, err := Compile(
		Equals("source", "chembl"),
		Range("mw", Gt(10.5), Lte(200)),
		Wildcard("name", "benz?ne*"),
	)
	require.NoError(t, err)
	assert.Equal(t, []Clause{
		{"term": map[string]interface{}{"source": "chembl"}},
		{"range": map[string]interface{}{"mw": map[string]interface{}{"gt": 10.5, "lte": 200}}},
		{"wildcard": map[string]interface{}{"name": map[string]interface{}{"value": "benz?ne*"}}},
	}, c.Filter)

	q := c.Query()
	b := q["bool"].(map[string]interface{})
	assert.NotContains(t, b, "must")
	assert.NotContains(t, b, "should")
	assert.Len(t, b["filter"], 3)
}

func TestFieldPredicates_Invalid(t *testing.T) {
	cases := map[string]Predicate{
		"empty field":        Equals("", "x"),
		"nil value":          Equals("source", nil),
		"fingerprint field":  Equals("sim_fingerprint", 3),
		"fingerprint length": Range("sub_fingerprint_len", Gt(1)),
		"serialized":         Wildcard("serialized", "*"),
		"no bounds":          Range("mw"),
		"nil bound":          Range("mw", Gt(nil)),
		"empty pattern":      Wildcard("name", ""),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(p)
			assert.True(t, errors.IsInvalidPredicate(err), "%v", err)
		})
	}
}
