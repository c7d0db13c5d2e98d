package predicate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/pkg/errors"
)

func targetRecord(t *testing.T, bits ...int) *record.Record {
	t.Helper()
	r, err := record.FromHit(chem.KindMolecule, "", map[string]interface{}{
		record.FieldSimFingerprint: bits,
		record.FieldSubFingerprint: bits,
	})
	require.NoError(t, err)
	return r
}

func bitsUpTo(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i * 3
	}
	return out
}

func scriptScoreBool(t *testing.T, q map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	ss, ok := q["script_score"].(map[string]interface{})
	require.True(t, ok, "expected script_score, got %v", q)
	inner := ss["query"].(map[string]interface{})
	b, ok := inner["bool"].(map[string]interface{})
	require.True(t, ok)
	return b, ss["script"].(map[string]interface{})
}

func TestTanimoto_MinimumShouldMatch_TenBitsAtPointNine(t *testing.T) {
	c, err := Compile(Tanimoto(targetRecord(t, bitsUpTo(10)...), 0.9))
	require.NoError(t, err)
	assert.Equal(t, "52%", c.MinimumShouldMatch)

	b, script := scriptScoreBool(t, c.Query())
	assert.Len(t, b["should"], 10)
	assert.Equal(t, "52%", b["minimum_should_match"])
	assert.NotContains(t, b, "must")

	params := script["params"].(map[string]interface{})
	assert.Equal(t, 10, params[ParamQueryLen])
	assert.Equal(t, "sim_fingerprint_len", params[ParamLenField])
	assert.Equal(t, "tanimoto", params[ParamMetric])

	require.NotNil(t, c.MinScore)
	assert.Equal(t, 0.9, *c.MinScore)
	assert.True(t, c.Scored)
	assert.Equal(t, "tanimoto", c.Label)
}

func TestSimilarity_ShouldClausesTestEachBit(t *testing.T) {
	c, err := Compile(Euclidean(targetRecord(t, 4, 9), 0.5))
	require.NoError(t, err)
	assert.Equal(t, []Clause{
		{"term": map[string]interface{}{"sim_fingerprint": 4}},
		{"term": map[string]interface{}{"sim_fingerprint": 9}},
	}, c.Should)
	assert.Equal(t, "50%", c.MinimumShouldMatch)
}

func TestTversky_ScriptParams(t *testing.T) {
	c, err := Compile(Tversky(targetRecord(t, bitsUpTo(8)...), 0.7, 0.9, 0.1))
	require.NoError(t, err)
	_, script := scriptScoreBool(t, c.Query())
	params := script["params"].(map[string]interface{})
	assert.Equal(t, 0.9, params[ParamAlpha])
	assert.Equal(t, 0.1, params[ParamBeta])

	m, err := MetricFromParams(params)
	require.NoError(t, err)
	assert.Equal(t, "tversky", m.Name())
}

func TestSimilarity_EmptyTargetMatchesNothing(t *testing.T) {
	empty := targetRecord(t)
	for _, p := range []Predicate{Tanimoto(empty, 0.5), Tversky(empty, 0.5, 1, 1), Euclidean(empty, 0.5)} {
		c, err := Compile(p)
		require.NoError(t, err, p.Name())
		assert.True(t, c.MatchNone)
		assert.Equal(t, map[string]interface{}{"match_none": map[string]interface{}{}}, c.Query())
	}
}

func TestSimilarity_InvalidThreshold(t *testing.T) {
	target := targetRecord(t, 1, 2)
	for _, th := range []float64{0, -0.1, 1.0001, 2} {
		_, err := Compile(Tanimoto(target, th))
		assert.True(t, errors.IsInvalidPredicate(err), "threshold %v", th)
	}
	_, err := Compile(Tanimoto(target, 1))
	assert.NoError(t, err)
}

func TestSimilarity_InvalidTverskyWeights(t *testing.T) {
	target := targetRecord(t, 1, 2)
	_, err := Compile(Tversky(target, 0.5, -1, 1))
	assert.True(t, errors.IsInvalidPredicate(err))
	_, err = Compile(Tversky(target, 0.5, 1, -0.5))
	assert.True(t, errors.IsInvalidPredicate(err))
}

func TestSimilarity_MissingTargetOrMetric(t *testing.T) {
	_, err := Compile(Tanimoto(nil, 0.5))
	assert.True(t, errors.IsInvalidPredicate(err))
	_, err = Compile(NewSimilarity(targetRecord(t, 1), nil, 0.5))
	assert.True(t, errors.IsInvalidPredicate(err))
}

func TestMetric_ScoreCounts(t *testing.T) {
	assert.InDelta(t, 5.0/7.0, TanimotoMetric().ScoreCounts(5, 5, 7), 1e-12)
	assert.Equal(t, 1.0, TanimotoMetric().ScoreCounts(4, 4, 4))
	assert.Equal(t, 0.0, TanimotoMetric().ScoreCounts(0, 0, 0))
	assert.InDelta(t, 0.5, EuclideanMetric().ScoreCounts(5, 10, 3), 1e-12)
	// α=β=1 reduces Tversky to Tanimoto
	assert.InDelta(t, TanimotoMetric().ScoreCounts(3, 6, 5), TverskyMetric(1, 1).ScoreCounts(3, 6, 5), 1e-12)
	assert.Equal(t, 0.0, TverskyMetric(0, 0).ScoreCounts(0, 3, 3))
}

func TestScore_UsesFingerprintOverlap(t *testing.T) {
	a := record.MustFingerprint(1, 2, 3, 4)
	b := record.MustFingerprint(3, 4, 5)
	assert.InDelta(t, 2.0/5.0, Score(TanimotoMetric(), a, b), 1e-12)
}

func TestMinimumShouldMatchPercent(t *testing.T) {
	assert.Equal(t, 52, MinimumShouldMatchPercent(0.9*11/1.9, 10))
	assert.Equal(t, 50, MinimumShouldMatchPercent(5, 10))
	assert.Equal(t, 100, MinimumShouldMatchPercent(12, 10))
	assert.Equal(t, 0, MinimumShouldMatchPercent(-1, 10))
	assert.Equal(t, 0, MinimumShouldMatchPercent(3, 0))
	assert.Equal(t, 5, RequiredMatches(52, 10))
}

// A bound of (α|T|+β)/(t+α+β−1) would demand all ten bits here,
// yet a one-bit candidate reaches the threshold.
func TestTversky_BoundKeepsLowOverlapTruePositive(t *testing.T) {
	m := TverskyMetric(1, 1)
	require.GreaterOrEqual(t, m.ScoreCounts(1, 10, 1), 0.1)

	pct := MinimumShouldMatchPercent(m.MinimumMatches(0.1, 10), 10)
	assert.LessOrEqual(t, RequiredMatches(pct, 10), 1)
}

func metricsUnderTest(r *rand.Rand) []Metric {
	return []Metric{
		TanimotoMetric(),
		EuclideanMetric(),
		TverskyMetric(1, 1),
		TverskyMetric(0.9, 0.1),
		TverskyMetric(0.1, 0.9),
		TverskyMetric(0, 1),
		TverskyMetric(r.Float64()*2, r.Float64()*2),
	}
}

func randomFingerprint(r *rand.Rand, width, maxBits int) record.Fingerprint {
	n := r.Intn(maxBits + 1)
	bits := make([]int, n)
	for i := range bits {
		bits[i] = r.Intn(width)
	}
	return record.MustFingerprint(bits...)
}

// Every candidate whose true score reaches the threshold must satisfy the
// clause count the backend derives from the compiled percentage.
func TestPruning_IsSound(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const width = 96

	for i := 0; i < 20000; i++ {
		target := randomFingerprint(r, width, 40)
		if target.IsEmpty() {
			continue
		}
		var cand record.Fingerprint
		if r.Intn(2) == 0 {
			cand = randomFingerprint(r, width, 60)
		} else {
			// overlap-heavy candidate: a subset of the target plus noise
			bits := target.Bits()
			keep := bits[:r.Intn(len(bits)+1)]
			extra := randomFingerprint(r, width, 5).Bits()
			cand = record.MustFingerprint(append(append([]int{}, keep...), extra...)...)
		}
		threshold := 1 - r.Float64()
		if threshold <= 0 {
			threshold = 1
		}

		n := target.Len()
		m := target.IntersectionCount(cand)
		for _, metric := range metricsUnderTest(r) {
			if Score(metric, target, cand) < threshold {
				continue
			}
			pct := MinimumShouldMatchPercent(metric.MinimumMatches(threshold, n), n)
			required := RequiredMatches(pct, n)
			if !assert.GreaterOrEqual(t, m, required,
				"%s t=%v |T|=%d |C|=%d m=%d pct=%d", metric.Name(), threshold, n, cand.Len(), m, pct) {
				return
			}
		}
	}
}

func TestPruning_ExhaustiveSmallFingerprints(t *testing.T) {
	thresholds := []float64{0.05, 0.1, 0.25, 1.0 / 3, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 1}
	r := rand.New(rand.NewSource(7))
	for n := 1; n <= 30; n++ {
		for m := 0; m <= n; m++ {
			for extra := 0; extra <= 30; extra++ {
				for _, th := range thresholds {
					for _, metric := range metricsUnderTest(r) {
						if metric.ScoreCounts(m, n, m+extra) < th {
							continue
						}
						pct := MinimumShouldMatchPercent(metric.MinimumMatches(th, n), n)
						if !assert.GreaterOrEqual(t, m, RequiredMatches(pct, n),
							"%s t=%v n=%d m=%d extra=%d", metric.Name(), th, n, m, extra) {
							return
						}
					}
				}
			}
		}
	}
}

func TestPruning_IsMonotone(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, metric := range metricsUnderTest(r) {
		for n := 1; n <= 64; n++ {
			prev := 101
			for step := 100; step >= 1; step-- {
				th := float64(step) / 100
				pct := MinimumShouldMatchPercent(metric.MinimumMatches(th, n), n)
				if !assert.LessOrEqual(t, pct, prev, "%s n=%d t=%v", metric.Name(), n, th) {
					return
				}
				prev = pct
			}
		}
	}
}

func TestMetricFromParams(t *testing.T) {
	for _, name := range []string{"tanimoto", "euclidean", "exact"} {
		m, err := MetricFromParams(map[string]interface{}{ParamMetric: name})
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}
	_, err := MetricFromParams(map[string]interface{}{ParamMetric: "cosine"})
	assert.Error(t, err)
	_, err = MetricFromParams(map[string]interface{}{ParamMetric: "tversky", ParamAlpha: 1.0})
	assert.Error(t, err)
}
