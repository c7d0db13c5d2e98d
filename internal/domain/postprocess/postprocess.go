// Package postprocess verifies fingerprint-screened candidates against the
// chemistry engine before they reach the caller.
//
// Screening predicates are over-inclusive: a superset fingerprint does not
// prove substructure containment and an identical fingerprint does not prove
// identity.  Hooks close that gap one candidate at a time.
package postprocess

import (
	"context"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/predicate"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Hook inspects one hydrated candidate.  Returning false removes it from the
// result stream.  An error coded ErrCodeCorruptRecord drops only the
// candidate; any other error ends the stream.
type Hook func(ctx context.Context, candidate *record.Record) (bool, error)

// Chain applies hooks in registration order.
type Chain []Hook

// Apply reports whether candidate survives every hook.  Evaluation stops at
// the first hook that rejects it or fails.
func (c Chain) Apply(ctx context.Context, candidate *record.Record) (bool, error) {
	for _, h := range c {
		if h == nil {
			continue
		}
		ok, err := h(ctx, candidate)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Len is the number of registered hooks.
func (c Chain) Len() int { return len(c) }

// SubstructureVerifier keeps candidates that truly contain query.  The query
// is rehydrated once, up front.
func SubstructureVerifier(eng chem.Engine, query *record.Record) (Hook, error) {
	q, err := rehydrateQuery(eng, query)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, candidate *record.Record) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s, err := candidate.Rehydrate(eng)
		if err != nil {
			return false, err
		}
		ok, err := eng.SubstructureMatch(q, s)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrCodeVerificationFailed, "substructure match failed").
				WithDetail(candidate.String())
		}
		return ok, nil
	}, nil
}

// ExactVerifier keeps candidates structurally identical to query.  The
// content hashes are compared first; only candidates with the same component
// multiset reach the engine.
func ExactVerifier(eng chem.Engine, query *record.Record) (Hook, error) {
	q, err := rehydrateQuery(eng, query)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, candidate *record.Record) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !query.SameContent(candidate) {
			return false, nil
		}
		s, err := candidate.Rehydrate(eng)
		if err != nil {
			return false, err
		}
		ok, err := eng.ExactMatch(q, s)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrCodeVerificationFailed, "exact match failed").
				WithDetail(candidate.String())
		}
		return ok, nil
	}, nil
}

// ForPredicate returns the verification hooks matching the chemistry
// predicate among preds.  Similarity predicates are scored exactly by the
// backend and need none.
func ForPredicate(eng chem.Engine, preds ...predicate.Predicate) (Chain, error) {
	var chain Chain
	for _, p := range preds {
		var (
			h   Hook
			err error
		)
		switch v := p.(type) {
		case *predicate.ExactPredicate:
			h, err = ExactVerifier(eng, v.Target())
		case *predicate.SubstructurePredicate:
			h, err = SubstructureVerifier(eng, v.Target())
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, h)
	}
	return chain, nil
}

func rehydrateQuery(eng chem.Engine, query *record.Record) (chem.Structure, error) {
	if eng == nil {
		return nil, errors.New(errors.ErrCodeValidation, "verification requires a chemistry engine")
	}
	if query == nil {
		return nil, errors.New(errors.ErrCodeValidation, "verification requires a query record")
	}
	s, err := query.Rehydrate(eng)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "query record cannot be verified against")
	}
	return s, nil
}
