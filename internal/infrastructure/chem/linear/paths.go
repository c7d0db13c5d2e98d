package linear

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"
)

const (
	// simPathAtoms and subPathAtoms bound the length, in atoms, of the linear
	// paths hashed into each fingerprint.
	simPathAtoms = 7
	subPathAtoms = 5
)

// paths enumerates every simple path of up to maxAtoms atoms and returns the
// canonical path strings with their occurrence counts.  A path and its
// reverse share one canonical form.
func (g *graph) paths(maxAtoms int) map[string]int {
	out := make(map[string]int)
	visited := make([]bool, len(g.atoms))
	seq := make([]string, 0, 2*maxAtoms)

	var walk func(at int, depth int)
	walk = func(at int, depth int) {
		out[canonicalPath(seq)]++
		if depth == maxAtoms {
			return
		}
		for _, e := range g.adj[at] {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			seq = append(seq, string(e.order), g.atoms[e.to].label)
			walk(e.to, depth+1)
			seq = seq[:len(seq)-2]
			visited[e.to] = false
		}
	}

	for i, a := range g.atoms {
		visited[i] = true
		seq = append(seq[:0], a.label)
		walk(i, 1)
		visited[i] = false
	}
	return out
}

func canonicalPath(seq []string) string {
	fwd := strings.Join(seq, "")
	rev := make([]string, len(seq))
	for i, s := range seq {
		rev[len(seq)-1-i] = s
	}
	if r := strings.Join(rev, ""); r < fwd {
		return r
	}
	return fwd
}

// hashBit maps a salted path string onto [0, width).
func hashBit(salt, path string, width int) int {
	sum := sha256.Sum256([]byte(salt + path))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(width))
}

// hashMultiset digests a counted path set independently of map order.
func hashMultiset(prefix string, counts map[string]int) uint64 {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(prefix))
	var buf [8]byte
	for _, k := range keys {
		h.Write([]byte(k))
		binary.BigEndian.PutUint64(buf[:], uint64(counts[k]))
		h.Write(buf[:])
	}
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}
