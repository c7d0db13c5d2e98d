package predicate

import (
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Category separates chemistry predicates, of which a query may carry at most
// one, from freely combinable field predicates.
type Category int

const (
	CategoryChemistry Category = iota
	CategoryField
)

// Predicate is one compilable search condition.
type Predicate interface {
	Category() Category
	// Name is a short label such as "tanimoto" or "range".
	Name() string
	// Apply validates the predicate and adds its clauses to c.
	Apply(c *Compiled) error
}

// Compile validates and conjoins preds.  At most one chemistry predicate is
// allowed; the pruning strategies of two chemistry predicates cannot share
// one clause set.  All errors carry ErrCodeInvalidPredicate and are raised
// before any backend call.
func Compile(preds ...Predicate) (*Compiled, error) {
	c := &Compiled{Label: "filter"}
	for _, p := range preds {
		if p == nil {
			return nil, errors.New(errors.ErrCodeInvalidPredicate, "nil predicate")
		}
		if p.Category() == CategoryChemistry {
			c.chemistry++
			if c.chemistry > 1 {
				return nil, errors.Newf(errors.ErrCodeInvalidPredicate,
					"cannot combine %s with another chemistry predicate in one query", p.Name())
			}
		}
		if err := p.Apply(c); err != nil {
			if errors.IsInvalidPredicate(err) {
				return nil, err
			}
			return nil, errors.Wrapf(err, errors.ErrCodeInvalidPredicate, "%s predicate", p.Name())
		}
	}
	return c, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidPredicate, format, args...)
}
