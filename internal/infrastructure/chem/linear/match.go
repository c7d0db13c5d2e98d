package linear

// embeds reports whether q is a subgraph of t: an injective atom mapping
// preserving labels and every q bond with its order.
func embeds(q, t *graph) bool {
	if len(q.atoms) > len(t.atoms) || q.bonds > t.bonds {
		return false
	}
	order := q.searchOrder()
	mapping := make([]int, len(q.atoms))
	for i := range mapping {
		mapping[i] = -1
	}
	used := make([]bool, len(t.atoms))

	var extend func(k int) bool
	extend = func(k int) bool {
		if k == len(order) {
			return true
		}
		qa := order[k]
		for ta := range t.atoms {
			if used[ta] || t.atoms[ta].label != q.atoms[qa].label || len(t.adj[ta]) < len(q.adj[qa]) {
				continue
			}
			if !consistent(q, t, mapping, qa, ta) {
				continue
			}
			mapping[qa], used[ta] = ta, true
			if extend(k + 1) {
				return true
			}
			mapping[qa], used[ta] = -1, false
		}
		return false
	}
	return extend(0)
}

func consistent(q, t *graph, mapping []int, qa, ta int) bool {
	for _, e := range q.adj[qa] {
		mt := mapping[e.to]
		if mt < 0 {
			continue
		}
		order, ok := t.bond(ta, mt)
		if !ok || order != e.order {
			return false
		}
	}
	return true
}

// searchOrder visits atoms depth-first so that most atoms are placed next to
// an already mapped neighbour.
func (g *graph) searchOrder() []int {
	seen := make([]bool, len(g.atoms))
	order := make([]int, 0, len(g.atoms))
	var visit func(int)
	visit = func(a int) {
		seen[a] = true
		order = append(order, a)
		for _, e := range g.adj[a] {
			if !seen[e.to] {
				visit(e.to)
			}
		}
	}
	for i := range g.atoms {
		if !seen[i] {
			visit(i)
		}
	}
	return order
}

// isomorphic holds when q embeds in t and both have the same atom and bond
// counts, which makes the embedding a bijection on atoms and bonds.
func isomorphic(a, b *graph) bool {
	return len(a.atoms) == len(b.atoms) && a.bonds == b.bonds && embeds(a, b)
}
