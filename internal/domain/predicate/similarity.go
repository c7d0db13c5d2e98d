package predicate

import (
	"fmt"
	"math"
	"strconv"

	"github.com/turtacn/chemsearch/internal/domain/record"
)

// Script parameter names shared by every scoring script.
const (
	ParamMetric   = "metric"
	ParamQueryLen = "query_len"
	ParamLenField = "len_field"
	ParamAlpha    = "alpha"
	ParamBeta     = "beta"
)

// Metric is a set-overlap similarity over sparse fingerprints.  The set of
// metrics is closed: Tanimoto, Tversky and Euclidean-style.
type Metric interface {
	Name() string

	// MinimumMatches returns a lower bound on |T ∩ C| that holds for every
	// candidate C scoring at least threshold against a target of targetLen
	// bits.
	MinimumMatches(threshold float64, targetLen int) float64

	// ScoreCounts evaluates the metric from the overlap and the two
	// population counts.
	ScoreCounts(matched, targetLen, candidateLen int) float64

	script(targetLen int) *Script
	validate() error
}

// Score evaluates m on two fingerprints.
func Score(m Metric, target, candidate record.Fingerprint) float64 {
	return m.ScoreCounts(target.IntersectionCount(candidate), target.Len(), candidate.Len())
}

// ─────────────────────────────────────────────────────────────────────────────
// Tanimoto
// ─────────────────────────────────────────────────────────────────────────────

type tanimoto struct{}

// TanimotoMetric is |T∩C| / (|T| + |C| − |T∩C|).
func TanimotoMetric() Metric { return tanimoto{} }

func (tanimoto) Name() string { return "tanimoto" }

// MinimumMatches returns t(|T|+1)/(1+t).  The tight bound is t|T| (the
// score never exceeds m/|T|); this one is at most t|T| whenever t|T| ≥ 1 and
// below 1 otherwise, so it never excludes a true positive.
func (tanimoto) MinimumMatches(t float64, targetLen int) float64 {
	return t * float64(targetLen+1) / (1 + t)
}

func (tanimoto) ScoreCounts(m, tl, cl int) float64 {
	d := tl + cl - m
	if d <= 0 {
		return 0
	}
	return float64(m) / float64(d)
}

func (tanimoto) script(targetLen int) *Script {
	return &Script{
		Source: "double d = params.query_len + doc[params.len_field].value - _score; return d <= 0 ? 0 : _score / d;",
		Params: map[string]interface{}{
			ParamMetric:   "tanimoto",
			ParamQueryLen: targetLen,
			ParamLenField: record.FieldSimFingerprintLen,
		},
	}
}

func (tanimoto) validate() error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Tversky
// ─────────────────────────────────────────────────────────────────────────────

type tversky struct {
	alpha, beta float64
}

// TverskyMetric is |T∩C| / (|T∩C| + α|T∖C| + β|C∖T|).  α weights target bits
// missing from the candidate, β candidate bits missing from the target.
func TverskyMetric(alpha, beta float64) Metric { return tversky{alpha: alpha, beta: beta} }

func (tversky) Name() string { return "tversky" }

// MinimumMatches drops the non-negative β term from the denominator, which
// leaves S ≤ m / (m + α(|T|−m)); solving S ≥ t for m gives
// m ≥ tα|T| / (1 − t + tα).
func (v tversky) MinimumMatches(t float64, targetLen int) float64 {
	d := 1 - t + t*v.alpha
	if d <= 0 {
		return 0
	}
	return t * v.alpha * float64(targetLen) / d
}

func (v tversky) ScoreCounts(m, tl, cl int) float64 {
	d := float64(m) + v.alpha*float64(tl-m) + v.beta*float64(cl-m)
	if d <= 0 {
		return 0
	}
	return float64(m) / d
}

func (v tversky) script(targetLen int) *Script {
	return &Script{
		Source: "double d = _score + params.alpha * (params.query_len - _score) + params.beta * (doc[params.len_field].value - _score); return d <= 0 ? 0 : _score / d;",
		Params: map[string]interface{}{
			ParamMetric:   "tversky",
			ParamQueryLen: targetLen,
			ParamLenField: record.FieldSimFingerprintLen,
			ParamAlpha:    v.alpha,
			ParamBeta:     v.beta,
		},
	}
}

func (v tversky) validate() error {
	if v.alpha < 0 || v.beta < 0 || math.IsNaN(v.alpha) || math.IsNaN(v.beta) ||
		math.IsInf(v.alpha, 0) || math.IsInf(v.beta, 0) {
		return invalid("tversky weights must be finite and non-negative, got alpha=%v beta=%v", v.alpha, v.beta)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Euclidean-style
// ─────────────────────────────────────────────────────────────────────────────

type euclidean struct{}

// EuclideanMetric is |T∩C| / |T|, the fraction of target bits present in the
// candidate.
func EuclideanMetric() Metric { return euclidean{} }

func (euclidean) Name() string { return "euclidean" }

func (euclidean) MinimumMatches(t float64, targetLen int) float64 {
	return t * float64(targetLen)
}

func (euclidean) ScoreCounts(m, tl, _ int) float64 {
	if tl <= 0 {
		return 0
	}
	return float64(m) / float64(tl)
}

func (euclidean) script(targetLen int) *Script {
	return &Script{
		Source: "return _score / params.query_len;",
		Params: map[string]interface{}{
			ParamMetric:   "euclidean",
			ParamQueryLen: targetLen,
		},
	}
}

func (euclidean) validate() error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Exact screening score
// ─────────────────────────────────────────────────────────────────────────────

// exact scores the must-clause count against the candidate's own population:
// 1 exactly when the candidate carries no bits beyond the target's.
type exact struct{}

func (exact) Name() string { return "exact" }

func (exact) MinimumMatches(_ float64, targetLen int) float64 { return float64(targetLen) }

func (exact) ScoreCounts(m, _, cl int) float64 {
	if cl <= 0 {
		return 0
	}
	return float64(m) / float64(cl)
}

func (exact) script(int) *Script {
	return &Script{
		Source: "double n = doc[params.len_field].value; return n <= 0 ? 0 : _score / n;",
		Params: map[string]interface{}{
			ParamMetric:   "exact",
			ParamLenField: record.FieldSubFingerprintLen,
		},
	}
}

func (exact) validate() error { return nil }

// MetricFromParams recovers the metric encoded in a compiled script's params.
func MetricFromParams(params map[string]interface{}) (Metric, error) {
	name, _ := params[ParamMetric].(string)
	switch name {
	case "tanimoto":
		return tanimoto{}, nil
	case "euclidean":
		return euclidean{}, nil
	case "exact":
		return exact{}, nil
	case "tversky":
		a, err := paramFloat(params, ParamAlpha)
		if err != nil {
			return nil, err
		}
		b, err := paramFloat(params, ParamBeta)
		if err != nil {
			return nil, err
		}
		return tversky{alpha: a, beta: b}, nil
	}
	return nil, fmt.Errorf("unknown metric %q", name)
}

func paramFloat(params map[string]interface{}, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	case fmt.Stringer:
		return strconv.ParseFloat(v.String(), 64)
	}
	return 0, fmt.Errorf("param %q missing or not a number", key)
}

// ─────────────────────────────────────────────────────────────────────────────
// Minimum-should-match encoding
// ─────────────────────────────────────────────────────────────────────────────

// MinimumShouldMatchPercent encodes a match-count bound over n should
// clauses as an integer percentage.  The backend requires floor(n·p/100)
// clauses, which never exceeds ceil(bound), so no candidate meeting the bound
// is lost.
func MinimumShouldMatchPercent(bound float64, n int) int {
	if n <= 0 || bound <= 0 || math.IsNaN(bound) {
		return 0
	}
	p := math.Floor(100*bound/float64(n) + 1e-9)
	if p > 100 {
		return 100
	}
	return int(p)
}

// RequiredMatches is the clause count the backend derives from a percentage.
func RequiredMatches(percent, n int) int {
	return n * percent / 100
}

// ─────────────────────────────────────────────────────────────────────────────
// Similarity predicate
// ─────────────────────────────────────────────────────────────────────────────

// SimilarityPredicate selects records whose similarity fingerprint scores at
// least Threshold against the target under Metric.
type SimilarityPredicate struct {
	target    *record.Record
	metric    Metric
	threshold float64
}

// NewSimilarity builds a similarity predicate.  Validation is deferred to
// Compile.
func NewSimilarity(target *record.Record, metric Metric, threshold float64) *SimilarityPredicate {
	return &SimilarityPredicate{target: target, metric: metric, threshold: threshold}
}

func Tanimoto(target *record.Record, threshold float64) *SimilarityPredicate {
	return NewSimilarity(target, TanimotoMetric(), threshold)
}

func Tversky(target *record.Record, threshold, alpha, beta float64) *SimilarityPredicate {
	return NewSimilarity(target, TverskyMetric(alpha, beta), threshold)
}

func Euclidean(target *record.Record, threshold float64) *SimilarityPredicate {
	return NewSimilarity(target, EuclideanMetric(), threshold)
}

func (p *SimilarityPredicate) Category() Category { return CategoryChemistry }

func (p *SimilarityPredicate) Name() string {
	if p.metric == nil {
		return "similarity"
	}
	return p.metric.Name()
}

func (p *SimilarityPredicate) Target() *record.Record { return p.target }
func (p *SimilarityPredicate) Metric() Metric         { return p.metric }
func (p *SimilarityPredicate) Threshold() float64     { return p.threshold }

func (p *SimilarityPredicate) Apply(c *Compiled) error {
	if p.target == nil {
		return invalid("similarity predicate requires a target record")
	}
	if p.metric == nil {
		return invalid("similarity predicate requires a metric")
	}
	if math.IsNaN(p.threshold) || p.threshold <= 0 || p.threshold > 1 {
		return invalid("threshold must be in (0, 1], got %v", p.threshold)
	}
	if err := p.metric.validate(); err != nil {
		return err
	}

	c.Label = p.metric.Name()
	c.Scored = true

	fp := p.target.SimFingerprint()
	if fp.IsEmpty() {
		c.MatchNone = true
		return nil
	}

	n := fp.Len()
	for _, b := range fp.Bits() {
		c.Should = append(c.Should, termClause(record.FieldSimFingerprint, b))
	}
	pct := MinimumShouldMatchPercent(p.metric.MinimumMatches(p.threshold, n), n)
	c.MinimumShouldMatch = strconv.Itoa(pct) + "%"
	c.Script = p.metric.script(n)
	c.MinScore = float64Ptr(p.threshold)
	return nil
}
