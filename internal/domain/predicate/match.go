package predicate

import (
	"github.com/turtacn/chemsearch/internal/domain/record"
)

// ExactPredicate screens for records whose substructure fingerprint equals
// the target's.  Fingerprint identity does not prove structural identity;
// pair it with postprocess.ExactVerifier.
type ExactPredicate struct {
	target *record.Record
}

func Exact(target *record.Record) *ExactPredicate { return &ExactPredicate{target: target} }

func (p *ExactPredicate) Category() Category     { return CategoryChemistry }
func (p *ExactPredicate) Name() string           { return "exact" }
func (p *ExactPredicate) Target() *record.Record { return p.target }

func (p *ExactPredicate) Apply(c *Compiled) error {
	if p.target == nil {
		return invalid("exact predicate requires a target record")
	}
	c.Label = p.Name()
	if !mustContainAll(c, p.target.SubFingerprint()) {
		return nil
	}
	c.Script = exact{}.script(p.target.SubFingerprint().Len())
	c.MinScore = float64Ptr(1)
	return nil
}

// SubstructurePredicate screens for records whose substructure fingerprint is
// a superset of the target's, a necessary condition for containing it.
type SubstructurePredicate struct {
	target *record.Record
}

func Substructure(target *record.Record) *SubstructurePredicate {
	return &SubstructurePredicate{target: target}
}

func (p *SubstructurePredicate) Category() Category     { return CategoryChemistry }
func (p *SubstructurePredicate) Name() string           { return "substructure" }
func (p *SubstructurePredicate) Target() *record.Record { return p.target }

func (p *SubstructurePredicate) Apply(c *Compiled) error {
	if p.target == nil {
		return invalid("substructure predicate requires a target record")
	}
	c.Label = p.Name()
	mustContainAll(c, p.target.SubFingerprint())
	return nil
}

// mustContainAll adds one must clause per bit of fp.  An empty fp turns the
// query into match_none and reports false.
func mustContainAll(c *Compiled, fp record.Fingerprint) bool {
	if fp.IsEmpty() {
		c.MatchNone = true
		return false
	}
	for _, b := range fp.Bits() {
		c.Must = append(c.Must, termClause(record.FieldSubFingerprint, b))
	}
	return true
}
