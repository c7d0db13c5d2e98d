// Package chem defines the contract between the search bridge and the
// chemistry engine that parses structures, computes fingerprints and decides
// exact and substructure identity.  The bridge treats the engine as an opaque
// synchronous service.
package chem

import (
	"fmt"
	"strings"

	"github.com/turtacn/chemsearch/pkg/errors"
)

// Kind distinguishes molecule records from reaction records.  Each kind is
// stored in its own index.
type Kind string

const (
	KindMolecule Kind = "molecule"
	KindReaction Kind = "reaction"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindMolecule || k == KindReaction
}

func (k Kind) String() string { return string(k) }

// ParseKind converts user input such as "molecule" or "reactions" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "molecule", "mol":
		return KindMolecule, nil
	case "reaction", "rxn":
		return KindReaction, nil
	}
	return "", errors.Newf(errors.ErrCodeValidation, "unknown record kind %q", s)
}

// FingerprintType selects one of the two fingerprints stored per record.
type FingerprintType int

const (
	// FingerprintSimilarity is the dense fingerprint compared with overlap
	// metrics such as Tanimoto.
	FingerprintSimilarity FingerprintType = iota
	// FingerprintSubstructure is the screening fingerprint: a query's bits
	// are a subset of the bits of every structure that contains it.
	FingerprintSubstructure
)

func (t FingerprintType) String() string {
	switch t {
	case FingerprintSimilarity:
		return "similarity"
	case FingerprintSubstructure:
		return "substructure"
	default:
		return fmt.Sprintf("FingerprintType(%d)", int(t))
	}
}

// Structure is an engine-owned parsed molecule or reaction.
type Structure interface {
	Kind() Kind
	// String returns the engine's textual notation for the structure.
	String() string
}

// Engine is the external chemistry service.  All methods are synchronous and
// have no side effects on bridge state.
type Engine interface {
	// Parse reads a textual structure.  Errors carry ErrCodeStructureInvalid.
	Parse(text string, kind Kind) (Structure, error)

	// Fingerprint returns the set bit positions of the requested fingerprint,
	// each in [0, FingerprintWidth(t)).  When the fingerprint cannot be
	// produced for s the error carries ErrCodeFingerprintUnavailable.
	Fingerprint(s Structure, t FingerprintType) ([]int, error)

	// FingerprintWidth is the fixed bit width of fingerprint type t.
	FingerprintWidth(t FingerprintType) int

	// Serialize and Deserialize round-trip a structure through a compact
	// binary form: Deserialize(Serialize(x)) is structurally identical to x.
	Serialize(s Structure) ([]byte, error)
	Deserialize(b []byte, kind Kind) (Structure, error)

	ExactMatch(a, b Structure) (bool, error)
	SubstructureMatch(query, target Structure) (bool, error)

	// Components splits s into its connected components (salt fragments,
	// reaction participants).  A single-component structure yields itself.
	Components(s Structure) []Structure

	// StructuralHash identifies a component independently of fingerprints.
	StructuralHash(component Structure) (uint64, error)
}
