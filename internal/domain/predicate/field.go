package predicate

import (
	"github.com/turtacn/chemsearch/internal/domain/record"
)

// Field predicates translate to the backend's term, range and wildcard
// queries.  They compile into the bool filter context so they never change a
// similarity score.

func checkField(field string) error {
	if field == "" {
		return invalid("field name is required")
	}
	if field == record.FieldSerialized {
		return invalid("field %q is not searchable", field)
	}
	for _, f := range record.FingerprintFields() {
		if field == f {
			return invalid("field %q is reserved for chemistry predicates", field)
		}
	}
	return nil
}

// TermPredicate matches records whose field equals a value.
type TermPredicate struct {
	field string
	value interface{}
}

func Equals(field string, value interface{}) *TermPredicate {
	return &TermPredicate{field: field, value: value}
}

func (p *TermPredicate) Category() Category { return CategoryField }
func (p *TermPredicate) Name() string       { return "term" }

func (p *TermPredicate) Apply(c *Compiled) error {
	if err := checkField(p.field); err != nil {
		return err
	}
	if p.value == nil {
		return invalid("term value for %q is nil", p.field)
	}
	c.Filter = append(c.Filter, termClause(p.field, p.value))
	return nil
}

// RangeOption sets one bound of a range predicate.
type RangeOption func(map[string]interface{})

func Gt(v interface{}) RangeOption  { return func(m map[string]interface{}) { m["gt"] = v } }
func Gte(v interface{}) RangeOption { return func(m map[string]interface{}) { m["gte"] = v } }
func Lt(v interface{}) RangeOption  { return func(m map[string]interface{}) { m["lt"] = v } }
func Lte(v interface{}) RangeOption { return func(m map[string]interface{}) { m["lte"] = v } }

// RangePredicate matches records whose field lies within the given bounds.
type RangePredicate struct {
	field  string
	bounds map[string]interface{}
}

func Range(field string, opts ...RangeOption) *RangePredicate {
	bounds := make(map[string]interface{}, len(opts))
	for _, o := range opts {
		o(bounds)
	}
	return &RangePredicate{field: field, bounds: bounds}
}

func (p *RangePredicate) Category() Category { return CategoryField }
func (p *RangePredicate) Name() string       { return "range" }

func (p *RangePredicate) Apply(c *Compiled) error {
	if err := checkField(p.field); err != nil {
		return err
	}
	if len(p.bounds) == 0 {
		return invalid("range on %q has no bounds", p.field)
	}
	bounds := make(map[string]interface{}, len(p.bounds))
	for k, v := range p.bounds {
		if v == nil {
			return invalid("range bound %s on %q is nil", k, p.field)
		}
		bounds[k] = v
	}
	c.Filter = append(c.Filter, Clause{"range": map[string]interface{}{p.field: bounds}})
	return nil
}

// WildcardPredicate matches a field against a pattern with * and ?.
type WildcardPredicate struct {
	field   string
	pattern string
}

func Wildcard(field, pattern string) *WildcardPredicate {
	return &WildcardPredicate{field: field, pattern: pattern}
}

func (p *WildcardPredicate) Category() Category { return CategoryField }
func (p *WildcardPredicate) Name() string       { return "wildcard" }

func (p *WildcardPredicate) Apply(c *Compiled) error {
	if err := checkField(p.field); err != nil {
		return err
	}
	if p.pattern == "" {
		return invalid("wildcard pattern for %q is empty", p.field)
	}
	c.Filter = append(c.Filter, Clause{"wildcard": map[string]interface{}{
		p.field: map[string]interface{}{"value": p.pattern},
	}})
	return nil
}
