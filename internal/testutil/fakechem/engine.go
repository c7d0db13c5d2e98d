// Package fakechem provides a scriptable chem.Engine for tests.  Structures
// are plain strings; fingerprints default to the character codes of the text
// and can be overridden per structure to craft collisions.
package fakechem

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Width is the fingerprint width of the fake engine.
const Width = 512

// Structure is the fake engine's structure type.
type Structure struct {
	K    chem.Kind
	Text string
}

func (s Structure) Kind() chem.Kind { return s.K }
func (s Structure) String() string  { return s.Text }

// Engine implements chem.Engine over Structure values.
type Engine struct {
	mu          sync.Mutex
	sim         map[string][]int
	sub         map[string][]int
	unavailable map[string]bool
	hashes      map[string]uint64
	calls       map[string]int
}

func New() *Engine {
	return &Engine{
		sim:         make(map[string][]int),
		sub:         make(map[string][]int),
		unavailable: make(map[string]bool),
		hashes:      make(map[string]uint64),
		calls:       make(map[string]int),
	}
}

// SetFingerprints overrides both fingerprints of text.
func (e *Engine) SetFingerprints(text string, sim, sub []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim[text] = sim
	e.sub[text] = sub
}

// SetUnavailable makes every fingerprint of text fail.
func (e *Engine) SetUnavailable(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable[text] = true
}

// SetHash overrides the structural hash of component text.
func (e *Engine) SetHash(text string, h uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hashes[text] = h
}

// Calls returns how often method was invoked.
func (e *Engine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

func (e *Engine) count(method string) {
	e.mu.Lock()
	e.calls[method]++
	e.mu.Unlock()
}

func (e *Engine) Parse(text string, kind chem.Kind) (chem.Structure, error) {
	e.count("Parse")
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrCodeStructureInvalid, "empty structure")
	}
	return Structure{K: kind, Text: text}, nil
}

func (e *Engine) Fingerprint(s chem.Structure, t chem.FingerprintType) ([]int, error) {
	e.count("Fingerprint")
	text := s.String()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unavailable[text] {
		return nil, errors.Newf(errors.ErrCodeFingerprintUnavailable, "no %s fingerprint for %q", t, text)
	}
	override := e.sim
	offset := 0
	if t == chem.FingerprintSubstructure {
		override = e.sub
		offset = 256
	}
	if bits, ok := override[text]; ok {
		return append([]int(nil), bits...), nil
	}
	seen := make(map[int]bool)
	var bits []int
	for i := 0; i < len(text); i++ {
		b := int(text[i]) + offset
		if !seen[b] {
			seen[b] = true
			bits = append(bits, b)
		}
	}
	return bits, nil
}

func (e *Engine) FingerprintWidth(chem.FingerprintType) int { return Width }

func (e *Engine) Serialize(s chem.Structure) ([]byte, error) {
	e.count("Serialize")
	return []byte(string(s.Kind()) + ":" + s.String()), nil
}

func (e *Engine) Deserialize(b []byte, kind chem.Kind) (chem.Structure, error) {
	e.count("Deserialize")
	prefix := string(kind) + ":"
	if !strings.HasPrefix(string(b), prefix) || len(b) == len(prefix) {
		return nil, errors.New(errors.ErrCodeStructureInvalid, "not a fake serialization")
	}
	return Structure{K: kind, Text: string(b[len(prefix):])}, nil
}

func (e *Engine) ExactMatch(a, b chem.Structure) (bool, error) {
	e.count("ExactMatch")
	return a.String() == b.String(), nil
}

func (e *Engine) SubstructureMatch(query, target chem.Structure) (bool, error) {
	e.count("SubstructureMatch")
	return strings.Contains(target.String(), query.String()), nil
}

func (e *Engine) Components(s chem.Structure) []chem.Structure {
	parts := strings.Split(s.String(), ".")
	out := make([]chem.Structure, 0, len(parts))
	for _, p := range parts {
		out = append(out, Structure{K: s.Kind(), Text: p})
	}
	return out
}

func (e *Engine) StructuralHash(c chem.Structure) (uint64, error) {
	e.mu.Lock()
	forced, ok := e.hashes[c.String()]
	e.mu.Unlock()
	if ok {
		return forced, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.String()))
	return h.Sum64(), nil
}

var _ chem.Engine = (*Engine)(nil)
