// Package motif holds the pattern graph searched for by a job.
//
// A Motif is built once from a Description (loaded from YAML, HCL, node-link
// JSON or an edge list), validated, and is immutable afterwards. The engine
// reads it from many goroutines without locking.
package motif

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidMotif wraps every structural validation failure.
var ErrInvalidMotif = errors.New("invalid motif")

// Attributes are exact-match equality constraints.
type Attributes map[string]string

// Matches reports whether every constraint in a is present with an equal
// value in host.
func (a Attributes) Matches(host map[string]string) bool {
	for k, v := range a {
		hv, ok := host[k]
		if !ok || hv != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Node is a motif vertex.
type Node struct {
	ID         string
	Attributes Attributes
}

// Edge is a motif edge. For undirected motifs Source/Target order is not
// significant.
type Edge struct {
	Source     string
	Target     string
	Attributes Attributes
}

// Motif is a validated, immutable pattern graph.
type Motif struct {
	directed bool
	nodes    []Node
	index    map[string]int
	edges    []Edge
	out      map[string][]int
	in       map[string][]int
	nbrs     map[string][]string
}

// New validates nodes and edges and builds a Motif.
func New(directed bool, nodes []Node, edges []Edge) (*Motif, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: motif has no nodes", ErrInvalidMotif)
	}

	m := &Motif{
		directed: directed,
		nodes:    make([]Node, 0, len(nodes)),
		index:    make(map[string]int, len(nodes)),
		edges:    make([]Edge, 0, len(edges)),
		out:      make(map[string][]int),
		in:       make(map[string][]int),
		nbrs:     make(map[string][]string),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidMotif)
		}
		if _, dup := m.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidMotif, n.ID)
		}
		m.index[n.ID] = len(m.nodes)
		m.nodes = append(m.nodes, Node{ID: n.ID, Attributes: n.Attributes.Clone()})
	}

	seen := make(map[[2]string]bool, len(edges))
	nbrSet := make(map[string]map[string]bool)
	for _, e := range edges {
		if _, ok := m.index[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %s-%s references undeclared node %q", ErrInvalidMotif, e.Source, e.Target, e.Source)
		}
		if _, ok := m.index[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %s-%s references undeclared node %q", ErrInvalidMotif, e.Source, e.Target, e.Target)
		}
		key := [2]string{e.Source, e.Target}
		if !directed && key[0] > key[1] {
			key[0], key[1] = key[1], key[0]
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate edge %s-%s", ErrInvalidMotif, e.Source, e.Target)
		}
		seen[key] = true

		idx := len(m.edges)
		m.edges = append(m.edges, Edge{Source: e.Source, Target: e.Target, Attributes: e.Attributes.Clone()})
		m.out[e.Source] = append(m.out[e.Source], idx)
		m.in[e.Target] = append(m.in[e.Target], idx)

		if e.Source != e.Target {
			if nbrSet[e.Source] == nil {
				nbrSet[e.Source] = make(map[string]bool)
			}
			if nbrSet[e.Target] == nil {
				nbrSet[e.Target] = make(map[string]bool)
			}
			nbrSet[e.Source][e.Target] = true
			nbrSet[e.Target][e.Source] = true
		}
	}

	for id, set := range nbrSet {
		list := make([]string, 0, len(set))
		for n := range set {
			list = append(list, n)
		}
		sort.Strings(list)
		m.nbrs[id] = list
	}

	return m, nil
}

// Directed reports whether edge direction is significant.
func (m *Motif) Directed() bool { return m.directed }

// Len returns the number of motif nodes.
func (m *Motif) Len() int { return len(m.nodes) }

// Nodes returns the nodes in declaration order.
func (m *Motif) Nodes() []Node {
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// NodeIDs returns node ids in declaration order.
func (m *Motif) NodeIDs() []string {
	out := make([]string, len(m.nodes))
	for i, n := range m.nodes {
		out[i] = n.ID
	}
	return out
}

// Node looks up a node by id.
func (m *Motif) Node(id string) (Node, bool) {
	i, ok := m.index[id]
	if !ok {
		return Node{}, false
	}
	return m.nodes[i], true
}

// Has reports whether id is a motif node.
func (m *Motif) Has(id string) bool {
	_, ok := m.index[id]
	return ok
}

// Edges returns all edges in declaration order.
func (m *Motif) Edges() []Edge {
	out := make([]Edge, len(m.edges))
	copy(out, m.edges)
	return out
}

// Degree is the number of edges incident to id. Self-loops count twice.
func (m *Motif) Degree(id string) int {
	return len(m.out[id]) + len(m.in[id])
}

// OutDegree is the number of edges with id as source.
func (m *Motif) OutDegree(id string) int { return len(m.out[id]) }

// InDegree is the number of edges with id as target.
func (m *Motif) InDegree(id string) int { return len(m.in[id]) }

// Neighbors returns the distinct adjacent node ids, ignoring direction, sorted.
func (m *Motif) Neighbors(id string) []string {
	return m.nbrs[id]
}

// Adjacent reports whether any edge joins a and b in either direction.
func (m *Motif) Adjacent(a, b string) bool {
	return len(m.EdgesBetween(a, b)) > 0
}

// EdgesBetween returns every edge joining a and b, in either direction.
// With a == b it returns the self-loops on a.
func (m *Motif) EdgesBetween(a, b string) []Edge {
	var out []Edge
	for _, idx := range m.out[a] {
		e := m.edges[idx]
		if e.Target == b {
			out = append(out, e)
		}
	}
	if a == b {
		return out
	}
	for _, idx := range m.in[a] {
		e := m.edges[idx]
		if e.Source == b {
			out = append(out, e)
		}
	}
	return out
}

// Constrained reports whether the node carries attribute constraints.
func (m *Motif) Constrained(id string) bool {
	n, ok := m.Node(id)
	return ok && len(n.Attributes) > 0
}

// Components groups node ids into connected components, ignoring direction.
// Components and their members follow declaration order.
func (m *Motif) Components() [][]string {
	uf := NewUnionFind(len(m.nodes))
	for _, e := range m.edges {
		uf.Union(m.index[e.Source], m.index[e.Target])
	}

	groups := uf.Groups()
	comps := make([][]string, len(groups))
	for ci, g := range groups {
		for _, i := range g {
			comps[ci] = append(comps[ci], m.nodes[i].ID)
		}
	}
	return comps
}

// Describe returns the serializable description of the motif.
func (m *Motif) Describe() Description {
	d := Description{Directed: m.directed}
	for _, n := range m.nodes {
		d.Nodes = append(d.Nodes, NodeDescription{ID: n.ID, Attributes: n.Attributes.Clone()})
	}
	for _, e := range m.edges {
		d.Edges = append(d.Edges, EdgeDescription{Source: e.Source, Target: e.Target, Attributes: e.Attributes.Clone()})
	}
	return d
}
