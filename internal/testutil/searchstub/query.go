package searchstub

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/chemsearch/internal/domain/predicate"
)

// evaluate reports whether source matches q and its score.  A nil query
// matches everything with score 1.
func evaluate(q map[string]interface{}, source map[string]interface{}) (bool, float64, error) {
	if len(q) == 0 {
		return true, 1, nil
	}
	if len(q) != 1 {
		return false, 0, fmt.Errorf("query must have exactly one key, got %d", len(q))
	}
	for kind, raw := range q {
		body, _ := raw.(map[string]interface{})
		switch kind {
		case "match_all":
			return true, 1, nil
		case "match_none":
			return false, 0, nil
		case "term":
			ok, err := termMatches(body, source)
			return ok, boolScore(ok), err
		case "range":
			ok, err := rangeMatches(body, source)
			return ok, boolScore(ok), err
		case "wildcard":
			ok, err := wildcardMatches(body, source)
			return ok, boolScore(ok), err
		case "bool":
			return boolMatches(body, source)
		case "script_score":
			return scriptScore(body, source)
		default:
			return false, 0, fmt.Errorf("unsupported query type %q", kind)
		}
	}
	return false, 0, nil
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func clauses(v interface{}) []map[string]interface{} {
	switch c := v.(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(c))
		for _, x := range c {
			if m, ok := x.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]interface{}:
		return []map[string]interface{}{c}
	}
	return nil
}

// boolMatches scores the sum of matching must and should clause scores.
// Filter clauses restrict without scoring.
func boolMatches(body, source map[string]interface{}) (bool, float64, error) {
	var score float64
	for _, c := range clauses(body["must"]) {
		ok, s, err := evaluate(c, source)
		if err != nil || !ok {
			return false, 0, err
		}
		score += s
	}
	for _, c := range clauses(body["filter"]) {
		ok, _, err := evaluate(c, source)
		if err != nil || !ok {
			return false, 0, err
		}
	}

	should := clauses(body["should"])
	matched := 0
	for _, c := range should {
		ok, s, err := evaluate(c, source)
		if err != nil {
			return false, 0, err
		}
		if ok {
			matched++
			score += s
		}
	}

	required := 0
	if msm, ok := body["minimum_should_match"]; ok {
		r, err := minimumShouldMatch(msm, len(should))
		if err != nil {
			return false, 0, err
		}
		required = r
	} else if len(should) > 0 && body["must"] == nil && body["filter"] == nil {
		required = 1
	}
	if matched < required {
		return false, 0, nil
	}
	return true, score, nil
}

// minimumShouldMatch resolves an integer or "p%" value the way the
// backend does: a positive percentage is rounded down.
func minimumShouldMatch(v interface{}, n int) (int, error) {
	switch m := v.(type) {
	case float64:
		return int(m), nil
	case string:
		if strings.HasSuffix(m, "%") {
			p, err := strconv.Atoi(strings.TrimSuffix(m, "%"))
			if err != nil {
				return 0, fmt.Errorf("bad minimum_should_match %q", m)
			}
			return n * p / 100, nil
		}
		return strconv.Atoi(m)
	}
	return 0, fmt.Errorf("bad minimum_should_match %v", v)
}

// values returns the field's values, flattening arrays and following dotted
// paths into objects.
func values(source map[string]interface{}, field string) []interface{} {
	var cur interface{} = source
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	if arr, ok := cur.([]interface{}); ok {
		return arr
	}
	if cur == nil {
		return nil
	}
	return []interface{}{cur}
}

func single(body map[string]interface{}) (string, interface{}, error) {
	if len(body) != 1 {
		return "", nil, fmt.Errorf("expected exactly one field, got %d", len(body))
	}
	for k, v := range body {
		return k, v, nil
	}
	return "", nil, nil
}

func keyword(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func termMatches(body, source map[string]interface{}) (bool, error) {
	field, want, err := single(body)
	if err != nil {
		return false, err
	}
	if m, ok := want.(map[string]interface{}); ok {
		want = m["value"]
	}
	for _, v := range values(source, field) {
		if keyword(v) == keyword(want) {
			return true, nil
		}
	}
	return false, nil
}

func compare(a, b interface{}) (int, bool) {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func rangeMatches(body, source map[string]interface{}) (bool, error) {
	field, raw, err := single(body)
	if err != nil {
		return false, err
	}
	bounds, ok := raw.(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("range on %q has no bounds", field)
	}
	for _, v := range values(source, field) {
		all := true
		for op, b := range bounds {
			c, ok := compare(v, b)
			if !ok {
				all = false
				break
			}
			switch op {
			case "gt":
				all = c > 0
			case "gte":
				all = c >= 0
			case "lt":
				all = c < 0
			case "lte":
				all = c <= 0
			default:
				return false, fmt.Errorf("unsupported range bound %q", op)
			}
			if !all {
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func wildcardMatches(body, source map[string]interface{}) (bool, error) {
	field, raw, err := single(body)
	if err != nil {
		return false, err
	}
	pattern, ok := raw.(string)
	if m, isMap := raw.(map[string]interface{}); isMap {
		pattern, ok = m["value"].(string)
	}
	if !ok {
		return false, fmt.Errorf("wildcard on %q has no pattern", field)
	}
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `\?`, ".")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return false, err
	}
	for _, v := range values(source, field) {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

// scriptScore replaces the inner score with the metric named in the script
// params, evaluated on the inner score as the overlap count.
func scriptScore(body, source map[string]interface{}) (bool, float64, error) {
	inner, _ := body["query"].(map[string]interface{})
	ok, score, err := evaluate(inner, source)
	if err != nil || !ok {
		return false, 0, err
	}

	script, _ := body["script"].(map[string]interface{})
	params, _ := script["params"].(map[string]interface{})
	metric, err := predicate.MetricFromParams(params)
	if err != nil {
		return false, 0, err
	}

	queryLen := 0
	if v, ok := params[predicate.ParamQueryLen].(float64); ok {
		queryLen = int(v)
	}
	candidateLen := 0
	if field, ok := params[predicate.ParamLenField].(string); ok {
		vs := values(source, field)
		if len(vs) != 1 {
			return false, 0, fmt.Errorf("script field %q must have exactly one value", field)
		}
		f, ok := vs[0].(float64)
		if !ok {
			return false, 0, fmt.Errorf("script field %q is not numeric", field)
		}
		candidateLen = int(f)
	}

	return true, metric.ScoreCounts(int(math.Round(score)), queryLen, candidateLen), nil
}
