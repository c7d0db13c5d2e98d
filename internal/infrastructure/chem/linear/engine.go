// Package linear is a self-contained reference chemistry engine over SMILES
// and reaction SMILES.  It parses structures into heavy-atom graphs, hashes
// linear bond paths into fingerprints and decides substructure and exact
// matches by subgraph search.  It has no stereo or valence model and is
// meant for tests and the command-line tools, not as a cheminformatics
// toolkit.
package linear

import (
	"strings"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// DefaultWidth is the bit width of both fingerprints unless overridden.
const DefaultWidth = 2048

const serialVersion byte = 1

// Molecule is a parsed SMILES string, possibly with several dot-separated
// fragments.
type Molecule struct {
	text  string
	g     *graph
	parts []*Molecule
}

func (m *Molecule) Kind() chem.Kind { return chem.KindMolecule }
func (m *Molecule) String() string  { return m.text }

// HeavyAtoms is the number of non-hydrogen atoms.
func (m *Molecule) HeavyAtoms() int { return len(m.g.atoms) }

// Bonds is the number of bonds between heavy atoms.
func (m *Molecule) Bonds() int { return m.g.bonds }

func (m *Molecule) components() []*Molecule {
	if len(m.parts) == 0 {
		return []*Molecule{m}
	}
	return m.parts
}

// Reaction is a parsed reaction SMILES, reactants>agents>products.
type Reaction struct {
	text      string
	reactants *Molecule
	agents    *Molecule
	products  *Molecule
}

func (r *Reaction) Kind() chem.Kind { return chem.KindReaction }
func (r *Reaction) String() string  { return r.text }

// roles lists the sides compared by fingerprints and matching.  Agents do
// not take part.
func (r *Reaction) roles() []role {
	return []role{{"r|", r.reactants}, {"p|", r.products}}
}

type role struct {
	prefix string
	mol    *Molecule
}

func parseMolecule(text string) (*Molecule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrCodeStructureInvalid, "empty smiles")
	}
	frags := strings.Split(text, ".")
	if len(frags) == 1 {
		g, err := parseGraph(text)
		if err != nil {
			return nil, err
		}
		return &Molecule{text: text, g: g}, nil
	}

	m := &Molecule{text: text, g: &graph{}}
	for _, f := range frags {
		part, err := parseMolecule(f)
		if err != nil {
			return nil, err
		}
		m.parts = append(m.parts, part)
		m.g.merge(part.g)
	}
	return m, nil
}

// parseSide accepts an empty reaction side.
func parseSide(text string) (*Molecule, error) {
	if text == "" {
		return &Molecule{g: &graph{}}, nil
	}
	return parseMolecule(text)
}

func parseReaction(text string) (*Reaction, error) {
	sides := strings.Split(text, ">")
	if len(sides) != 3 {
		return nil, errors.Newf(errors.ErrCodeStructureInvalid, "reaction %q must have the form reactants>agents>products", text)
	}
	if sides[0] == "" && sides[2] == "" {
		return nil, errors.Newf(errors.ErrCodeStructureInvalid, "reaction %q has neither reactants nor products", text)
	}
	r := &Reaction{text: text}
	var err error
	if r.reactants, err = parseSide(sides[0]); err != nil {
		return nil, err
	}
	if r.agents, err = parseSide(sides[1]); err != nil {
		return nil, err
	}
	if r.products, err = parseSide(sides[2]); err != nil {
		return nil, err
	}
	return r, nil
}

// Engine implements chem.Engine.  It is stateless and safe for concurrent use.
type Engine struct {
	width int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWidth sets the fingerprint width.  Non-positive values are ignored.
func WithWidth(width int) Option {
	return func(e *Engine) {
		if width > 0 {
			e.width = width
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{width: DefaultWidth}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Parse(text string, kind chem.Kind) (chem.Structure, error) {
	text = strings.TrimSpace(text)
	switch kind {
	case chem.KindMolecule:
		if strings.Contains(text, ">") {
			return nil, errors.Newf(errors.ErrCodeStructureInvalid, "%q is a reaction, not a molecule", text)
		}
		m, err := parseMolecule(text)
		if err != nil {
			return nil, err
		}
		return m, nil
	case chem.KindReaction:
		r, err := parseReaction(text)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, errors.Newf(errors.ErrCodeValidation, "unknown record kind %q", kind)
}

func (e *Engine) FingerprintWidth(chem.FingerprintType) int { return e.width }

func (e *Engine) Fingerprint(s chem.Structure, t chem.FingerprintType) ([]int, error) {
	salt, maxAtoms := "sim:", simPathAtoms
	if t == chem.FingerprintSubstructure {
		salt, maxAtoms = "sub:", subPathAtoms
	}

	var sides []role
	switch v := s.(type) {
	case *Molecule:
		sides = []role{{"", v}}
	case *Reaction:
		sides = v.roles()
	default:
		return nil, unsupported(s)
	}

	heavy := 0
	seen := make(map[int]bool)
	var bits []int
	for _, side := range sides {
		heavy += side.mol.HeavyAtoms()
		for path := range side.mol.g.paths(maxAtoms) {
			b := hashBit(salt, side.prefix+path, e.width)
			if !seen[b] {
				seen[b] = true
				bits = append(bits, b)
			}
		}
	}
	if heavy == 0 {
		return nil, errors.Newf(errors.ErrCodeFingerprintUnavailable, "%s fingerprint: %q has no heavy atoms", t, s.String())
	}
	return bits, nil
}

// Serialize stores a version byte, the kind and the input text.
func (e *Engine) Serialize(s chem.Structure) ([]byte, error) {
	switch s.(type) {
	case *Molecule, *Reaction:
	default:
		return nil, unsupported(s)
	}
	out := make([]byte, 0, len(s.String())+2)
	out = append(out, serialVersion, kindByte(s.Kind()))
	return append(out, s.String()...), nil
}

func (e *Engine) Deserialize(b []byte, kind chem.Kind) (chem.Structure, error) {
	if len(b) < 3 {
		return nil, errors.New(errors.ErrCodeStructureInvalid, "serialized structure is truncated")
	}
	if b[0] != serialVersion {
		return nil, errors.Newf(errors.ErrCodeStructureInvalid, "unsupported serialization version %d", b[0])
	}
	if b[1] != kindByte(kind) {
		return nil, errors.Newf(errors.ErrCodeStructureInvalid, "serialized structure is not a %s", kind)
	}
	return e.Parse(string(b[2:]), kind)
}

func kindByte(k chem.Kind) byte {
	if k == chem.KindReaction {
		return 'R'
	}
	return 'M'
}

func (e *Engine) ExactMatch(a, b chem.Structure) (bool, error) {
	switch x := a.(type) {
	case *Molecule:
		y, ok := b.(*Molecule)
		if !ok {
			return false, nil
		}
		return sameComponents(x.components(), y.components()), nil
	case *Reaction:
		y, ok := b.(*Reaction)
		if !ok {
			return false, nil
		}
		return sameComponents(x.reactants.components(), y.reactants.components()) &&
			sameComponents(x.products.components(), y.products.components()), nil
	}
	return false, unsupported(a)
}

// sameComponents pairs components up to isomorphism.  Isomorphism is an
// equivalence, so greedy pairing is exact.
func sameComponents(a, b []*Molecule) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, x := range a {
		found := false
		for j, y := range b {
			if !used[j] && isomorphic(x.g, y.g) {
				used[j], found = true, true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Engine) SubstructureMatch(query, target chem.Structure) (bool, error) {
	switch q := query.(type) {
	case *Molecule:
		t, ok := target.(*Molecule)
		if !ok {
			return false, nil
		}
		return embeds(q.g, t.g), nil
	case *Reaction:
		t, ok := target.(*Reaction)
		if !ok {
			return false, nil
		}
		return embeds(q.reactants.g, t.reactants.g) && embeds(q.products.g, t.products.g), nil
	}
	return false, unsupported(query)
}

func (e *Engine) Components(s chem.Structure) []chem.Structure {
	var mols []*Molecule
	switch v := s.(type) {
	case *Molecule:
		mols = v.components()
	case *Reaction:
		for _, side := range []*Molecule{v.reactants, v.agents, v.products} {
			if side.text != "" {
				mols = append(mols, side.components()...)
			}
		}
	default:
		return []chem.Structure{s}
	}
	out := make([]chem.Structure, len(mols))
	for i, m := range mols {
		out[i] = m
	}
	return out
}

// StructuralHash digests the component's counted path multiset, which does
// not depend on atom order in the input text.
func (e *Engine) StructuralHash(c chem.Structure) (uint64, error) {
	switch v := c.(type) {
	case *Molecule:
		return hashMultiset("mol", v.g.paths(simPathAtoms)), nil
	case *Reaction:
		counts := make(map[string]int)
		for _, side := range v.roles() {
			for p, n := range side.mol.g.paths(simPathAtoms) {
				counts[side.prefix+p] += n
			}
		}
		return hashMultiset("rxn", counts), nil
	}
	return 0, unsupported(c)
}

func unsupported(s chem.Structure) error {
	return errors.Newf(errors.ErrCodeStructureInvalid, "structure %T was not produced by the linear engine", s)
}

var _ chem.Engine = (*Engine)(nil)
