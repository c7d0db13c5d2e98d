package linear

import (
	"strconv"
	"strings"

	"github.com/turtacn/chemsearch/pkg/errors"
)

// atom is one heavy atom.  label is the element symbol as written (lowercase
// when aromatic) followed by any formal charge.
type atom struct {
	label    string
	aromatic bool
}

type edge struct {
	to    int
	order byte
}

// graph is a labelled molecular graph over heavy atoms only.
type graph struct {
	atoms []atom
	adj   [][]edge
	bonds int
}

func (g *graph) add(a atom) int {
	g.atoms = append(g.atoms, a)
	g.adj = append(g.adj, nil)
	return len(g.atoms) - 1
}

func (g *graph) connect(a, b int, order byte) {
	g.adj[a] = append(g.adj[a], edge{to: b, order: order})
	g.adj[b] = append(g.adj[b], edge{to: a, order: order})
	g.bonds++
}

func (g *graph) bond(a, b int) (byte, bool) {
	for _, e := range g.adj[a] {
		if e.to == b {
			return e.order, true
		}
	}
	return 0, false
}

func (g *graph) merge(o *graph) {
	off := len(g.atoms)
	g.atoms = append(g.atoms, o.atoms...)
	for _, edges := range o.adj {
		shifted := make([]edge, len(edges))
		for i, e := range edges {
			shifted[i] = edge{to: e.to + off, order: e.order}
		}
		g.adj = append(g.adj, shifted)
	}
	g.bonds += o.bonds
}

type ringOpen struct {
	atom int
	bond byte
}

func syntaxError(text string, pos int, msg string) error {
	return errors.Newf(errors.ErrCodeStructureInvalid, "smiles %q at %d: %s", text, pos, msg)
}

// parseGraph reads one dot-free SMILES fragment.
func parseGraph(text string) (*graph, error) {
	g := &graph{}
	var (
		prev    = -1
		pending byte
		stack   []int
		rings   = map[int]ringOpen{}
	)

	attach := func(a atom) {
		idx := g.add(a)
		if prev >= 0 {
			g.connect(prev, idx, bondOrder(pending, g.atoms[prev], a))
		}
		prev = idx
		pending = 0
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '(':
			if prev < 0 {
				return nil, syntaxError(text, i, "branch before any atom")
			}
			stack = append(stack, prev)
			i++
		case c == ')':
			if len(stack) == 0 {
				return nil, syntaxError(text, i, "unbalanced ')'")
			}
			prev = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			i++
		case strings.IndexByte("-=#:$/\\", c) >= 0:
			pending = c
			i++
		case c == '%' || (c >= '0' && c <= '9'):
			if prev < 0 {
				return nil, syntaxError(text, i, "ring closure before any atom")
			}
			num, n, err := ringNumber(text, i)
			if err != nil {
				return nil, err
			}
			i += n
			if open, ok := rings[num]; ok {
				b := pending
				if b == 0 {
					b = open.bond
				}
				if open.atom == prev {
					return nil, syntaxError(text, i, "ring closes on itself")
				}
				g.connect(open.atom, prev, bondOrder(b, g.atoms[open.atom], g.atoms[prev]))
				delete(rings, num)
			} else {
				rings[num] = ringOpen{atom: prev, bond: pending}
			}
			pending = 0
		case c == '[':
			end := strings.IndexByte(text[i:], ']')
			if end < 0 {
				return nil, syntaxError(text, i, "unterminated bracket atom")
			}
			a, hydrogen, err := parseBracket(text[i+1 : i+end])
			if err != nil {
				return nil, syntaxError(text, i, err.Error())
			}
			i += end + 1
			if hydrogen {
				pending = 0
				continue
			}
			attach(a)
		default:
			sym, n := organicSymbol(text[i:])
			if n == 0 {
				return nil, syntaxError(text, i, "unexpected character "+strconv.QuoteRune(rune(c)))
			}
			i += n
			attach(atom{label: sym, aromatic: sym[0] >= 'a' && sym[0] <= 'z'})
		}
	}
	if len(stack) > 0 {
		return nil, syntaxError(text, len(text), "unclosed branch")
	}
	if len(rings) > 0 {
		return nil, syntaxError(text, len(text), "unclosed ring")
	}
	return g, nil
}

func bondOrder(sym byte, a, b atom) byte {
	switch sym {
	case '=', '#', '$', ':':
		return sym
	case 0:
		if a.aromatic && b.aromatic {
			return ':'
		}
	}
	return '-'
}

func ringNumber(text string, i int) (int, int, error) {
	if text[i] != '%' {
		return int(text[i] - '0'), 1, nil
	}
	if i+3 > len(text) {
		return 0, 0, syntaxError(text, i, "truncated %nn ring number")
	}
	n, err := strconv.Atoi(text[i+1 : i+3])
	if err != nil {
		return 0, 0, syntaxError(text, i, "bad %nn ring number")
	}
	return n, 3, nil
}

// organicSymbol matches the unbracketed organic subset at the start of s.
func organicSymbol(s string) (string, int) {
	if strings.HasPrefix(s, "Cl") || strings.HasPrefix(s, "Br") {
		return s[:2], 2
	}
	if strings.IndexByte("BCNOPSFIbcnops*", s[0]) >= 0 {
		return s[:1], 1
	}
	return "", 0
}

// parseBracket reads the inside of [...]: isotope, element, chirality,
// hydrogen count, charge and atom class.  Only element and charge are kept.
func parseBracket(s string) (atom, bool, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i >= len(s) {
		return atom{}, false, errors.New(errors.ErrCodeStructureInvalid, "bracket atom without element")
	}

	var elem string
	switch {
	case strings.HasPrefix(s[i:], "se") || strings.HasPrefix(s[i:], "as"):
		elem = s[i : i+2]
	case s[i] >= 'A' && s[i] <= 'Z':
		elem = s[i : i+1]
		if i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z' {
			elem = s[i : i+2]
		}
	case s[i] >= 'a' && s[i] <= 'z' || s[i] == '*':
		elem = s[i : i+1]
	default:
		return atom{}, false, errors.Newf(errors.ErrCodeStructureInvalid, "bad element in [%s]", s)
	}
	i += len(elem)

	for i < len(s) && s[i] == '@' {
		i++
	}
	if i < len(s) && s[i] == 'H' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
	}

	charge := 0
	for i < len(s) && (s[i] == '+' || s[i] == '-') {
		sign := 1
		if s[i] == '-' {
			sign = -1
		}
		i++
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i {
			n, _ := strconv.Atoi(s[i:j])
			charge += sign * n
			i = j
		} else {
			charge += sign
		}
	}
	if i < len(s) && s[i] == ':' {
		i = len(s)
	}
	if i != len(s) {
		return atom{}, false, errors.Newf(errors.ErrCodeStructureInvalid, "trailing characters in [%s]", s)
	}

	label := elem
	switch {
	case charge == 1:
		label += "+"
	case charge == -1:
		label += "-"
	case charge > 1:
		label += strconv.Itoa(charge) + "+"
	case charge < -1:
		label += strconv.Itoa(-charge) + "-"
	}
	return atom{label: label, aromatic: elem[0] >= 'a' && elem[0] <= 'z'}, elem == "H", nil
}
