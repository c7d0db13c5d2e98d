// Package predicate compiles chemistry and metadata predicates into backend
// queries for an Elasticsearch-compatible engine.
//
// Chemistry predicates compile to a sound over-approximation: a boolean
// clause set whose minimum-should-match bound never excludes a candidate that
// satisfies the predicate, plus a scoring script that recomputes the exact
// metric so that min_score removes the remaining non-matches.
package predicate

// Clause is one query clause in the backend's JSON query DSL.
type Clause = map[string]interface{}

// Script is a backend scoring script.
type Script struct {
	Source string
	Params map[string]interface{}
}

// Compiled is the transient result of compiling a set of predicates.  It is
// consumed by exactly one search request.
type Compiled struct {
	Must   []Clause
	Should []Clause
	Filter []Clause

	// MinimumShouldMatch applies to Should, e.g. "52%".
	MinimumShouldMatch string

	// MatchNone short-circuits the whole query: a chemistry predicate with an
	// empty target fingerprint matches nothing.
	MatchNone bool

	Script   *Script
	MinScore *float64

	// Label names the chemistry predicate for logs and metrics.  It is
	// "filter" when only field predicates were compiled.
	Label string

	// Scored reports whether hit order carries meaning.
	Scored bool

	chemistry int
}

// Query renders the compiled clauses as the backend "query" object.
func (c *Compiled) Query() map[string]interface{} {
	if c.MatchNone {
		return map[string]interface{}{"match_none": map[string]interface{}{}}
	}

	var inner map[string]interface{}
	if len(c.Must) == 0 && len(c.Should) == 0 && len(c.Filter) == 0 {
		inner = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		b := map[string]interface{}{}
		if len(c.Must) > 0 {
			b["must"] = c.Must
		}
		if len(c.Should) > 0 {
			b["should"] = c.Should
			if c.MinimumShouldMatch != "" {
				b["minimum_should_match"] = c.MinimumShouldMatch
			}
		}
		if len(c.Filter) > 0 {
			b["filter"] = c.Filter
		}
		inner = map[string]interface{}{"bool": b}
	}

	if c.Script == nil {
		return inner
	}
	return map[string]interface{}{
		"script_score": map[string]interface{}{
			"query": inner,
			"script": map[string]interface{}{
				"source": c.Script.Source,
				"params": c.Script.Params,
			},
		},
	}
}

func termClause(field string, value interface{}) Clause {
	return Clause{"term": map[string]interface{}{field: value}}
}

func float64Ptr(v float64) *float64 { return &v }
