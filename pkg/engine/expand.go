package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/graph"
	"github.com/DrSkyle/grandiso/pkg/motif"
)

// Expander grows backbones of one motif against a host graph. It keeps no
// mutable state, so one value serves every worker of a job.
type Expander struct {
	motif   *motif.Motif
	host    graph.HostGraph
	induced bool
	tracer  trace.Tracer
	need    map[string]degreeNeed
}

// degreeNeed counts a motif node's distinct neighbors, self excluded.
// A host candidate with fewer cannot host it injectively.
type degreeNeed struct {
	out, in, any int
}

// Expansion is the outcome of one unit of work.
type Expansion struct {
	Successors []backbone.Backbone
	Results    []backbone.Result
	// Steps counts expansion rounds, inline continuations included.
	Steps int
}

// Dead reports a pruned branch.
func (x Expansion) Dead() bool {
	return len(x.Successors) == 0 && len(x.Results) == 0
}

// NewExpander prepares m for expansion. With induced set, host edges
// between mapped nodes must also exist in the motif.
func NewExpander(m *motif.Motif, host graph.HostGraph, induced bool) *Expander {
	x := &Expander{
		motif:   m,
		host:    host,
		induced: induced,
		tracer:  noop.NewTracerProvider().Tracer(""),
		need:    make(map[string]degreeNeed, m.Len()),
	}
	for _, id := range m.NodeIDs() {
		outs, ins := map[string]bool{}, map[string]bool{}
		for _, other := range m.Neighbors(id) {
			for _, e := range m.EdgesBetween(id, other) {
				if e.Source == id {
					outs[other] = true
				} else {
					ins[other] = true
				}
			}
		}
		x.need[id] = degreeNeed{out: len(outs), in: len(ins), any: len(m.Neighbors(id))}
	}
	return x
}

// Frontier returns the unmapped motif nodes adjacent to the mapping, sorted.
func (x *Expander) Frontier(mp backbone.Mapping) []string {
	var out []string
	for _, id := range x.motif.NodeIDs() {
		if mp.Mapped(id) {
			continue
		}
		for _, n := range x.motif.Neighbors(id) {
			if mp.Mapped(n) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// NextNode picks the motif node to assign next: the frontier node with the
// most edges into the mapping, then the highest degree, then the most
// attribute constraints, then the smallest id. A disconnected remainder
// falls back to every unmapped node.
func (x *Expander) NextNode(mp backbone.Mapping) string {
	pool := x.Frontier(mp)
	if len(pool) == 0 {
		for _, id := range x.motif.NodeIDs() {
			if !mp.Mapped(id) {
				pool = append(pool, id)
			}
		}
	}
	if len(pool) == 0 {
		return ""
	}

	best := pool[0]
	bestLinks := x.links(mp, best)
	for _, id := range pool[1:] {
		l := x.links(mp, id)
		if x.better(id, l, best, bestLinks) {
			best, bestLinks = id, l
		}
	}
	return best
}

func (x *Expander) links(mp backbone.Mapping, id string) int {
	n := 0
	for _, p := range mp {
		n += len(x.motif.EdgesBetween(id, p.Motif))
	}
	return n
}

func (x *Expander) better(a string, aLinks int, b string, bLinks int) bool {
	if aLinks != bLinks {
		return aLinks > bLinks
	}
	if da, db := x.motif.Degree(a), x.motif.Degree(b); da != db {
		return da > db
	}
	na, _ := x.motif.Node(a)
	nb, _ := x.motif.Node(b)
	if len(na.Attributes) != len(nb.Attributes) {
		return len(na.Attributes) > len(nb.Attributes)
	}
	return a < b
}

// Candidates lists the host nodes u can be mapped to given mp. Each one
// satisfies u's attributes, every motif edge between u and the mapping,
// u's self-loops and injectivity.
func (x *Expander) Candidates(ctx context.Context, mp backbone.Mapping, u string) ([]string, error) {
	node, ok := x.motif.Node(u)
	if !ok {
		return nil, fmt.Errorf("%w: unknown motif node %q", backbone.ErrMalformedMessage, u)
	}

	var raw []string
	if anchor, edge, found := x.anchorFor(mp, u); found {
		hAnchor, _ := mp.Host(anchor)
		dir := graph.Both
		if x.motif.Directed() {
			dir = graph.In
			if edge.Source == anchor {
				dir = graph.Out
			}
		}
		nbrs, err := x.host.Neighbors(ctx, hAnchor, dir)
		if err != nil {
			return nil, fmt.Errorf("neighbors of %s: %w", hAnchor, err)
		}
		seen := make(map[string]bool, len(nbrs))
		for _, n := range nbrs {
			if seen[n.ID] || mp.Uses(n.ID) || !edge.Attributes.Matches(n.Attributes) {
				continue
			}
			seen[n.ID] = true
			raw = append(raw, n.ID)
		}
	} else {
		err := x.host.ScanNodes(ctx, node.Attributes, func(id string, _ map[string]string) error {
			if !mp.Uses(id) {
				raw = append(raw, id)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan for %s: %w", u, err)
		}
	}

	out := make([]string, 0, len(raw))
	for _, c := range raw {
		ok, err := x.Consistent(ctx, mp, u, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// anchorFor returns the first mapped node joined to u and one edge between
// them.
func (x *Expander) anchorFor(mp backbone.Mapping, u string) (string, motif.Edge, bool) {
	for _, p := range mp {
		if edges := x.motif.EdgesBetween(p.Motif, u); len(edges) > 0 {
			return p.Motif, edges[0], true
		}
	}
	return "", motif.Edge{}, false
}

// adjacency indexes a candidate's host edges by the node at the other end.
// For undirected motifs out and in are the same map.
type adjacency struct {
	out map[string][]map[string]string
	in  map[string][]map[string]string
}

func (x *Expander) adjacency(ctx context.Context, c string) (adjacency, error) {
	index := func(dir graph.Direction) (map[string][]map[string]string, error) {
		nbrs, err := x.host.Neighbors(ctx, c, dir)
		if err != nil {
			return nil, fmt.Errorf("neighbors of %s: %w", c, err)
		}
		m := make(map[string][]map[string]string, len(nbrs))
		for _, n := range nbrs {
			m[n.ID] = append(m[n.ID], n.Attributes)
		}
		return m, nil
	}

	if !x.motif.Directed() {
		all, err := index(graph.Both)
		if err != nil {
			return adjacency{}, err
		}
		return adjacency{out: all, in: all}, nil
	}
	out, err := index(graph.Out)
	if err != nil {
		return adjacency{}, err
	}
	in, err := index(graph.In)
	if err != nil {
		return adjacency{}, err
	}
	return adjacency{out: out, in: in}, nil
}

// Consistent reports whether mapping u to host node c keeps mp a valid
// partial match. Every motif edge between u and an already-mapped node is
// re-checked, so cycles close correctly whichever edge led here.
func (x *Expander) Consistent(ctx context.Context, mp backbone.Mapping, u, c string) (bool, error) {
	if mp.Uses(c) {
		return false, nil
	}
	node, ok := x.motif.Node(u)
	if !ok {
		return false, nil
	}

	attrs, err := x.host.NodeAttributes(ctx, c)
	if errors.Is(err, graph.ErrNodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attributes of %s: %w", c, err)
	}
	if !node.Attributes.Matches(attrs) {
		return false, nil
	}

	adj, err := x.adjacency(ctx, c)
	if err != nil {
		return false, err
	}
	if !x.roomFor(u, c, adj) {
		return false, nil
	}
	for _, p := range mp {
		if !x.edgesHold(u, p.Motif, c, p.Host, adj) {
			return false, nil
		}
	}
	return x.edgesHold(u, u, c, c, adj), nil
}

// roomFor is the degree filter: c needs at least as many distinct
// neighbors as u, per direction.
func (x *Expander) roomFor(u, c string, adj adjacency) bool {
	need := x.need[u]
	distinct := func(m map[string][]map[string]string) int {
		n := len(m)
		if _, self := m[c]; self {
			n--
		}
		return n
	}
	if !x.motif.Directed() {
		return distinct(adj.out) >= need.any
	}
	return distinct(adj.out) >= need.out && distinct(adj.in) >= need.in
}

// edgesHold checks the motif edges between u and m against the host edges
// between c and h. With m == u it checks self-loops.
func (x *Expander) edgesHold(u, m, c, h string, adj adjacency) bool {
	edges := x.motif.EdgesBetween(u, m)
	for _, e := range edges {
		side := adj.out
		if x.motif.Directed() && e.Source != u {
			side = adj.in
		}
		if !anyMatch(side[h], e.Attributes) {
			return false
		}
	}
	if !x.induced {
		return true
	}

	if !x.motif.Directed() {
		return len(adj.out[h]) == 0 || len(edges) > 0
	}
	if len(adj.out[h]) > 0 && !hasEdge(edges, u, m) {
		return false
	}
	if u != m && len(adj.in[h]) > 0 && !hasEdge(edges, m, u) {
		return false
	}
	return true
}

func anyMatch(hostEdges []map[string]string, want motif.Attributes) bool {
	for _, attrs := range hostEdges {
		if want.Matches(attrs) {
			return true
		}
	}
	return false
}

func hasEdge(edges []motif.Edge, source, target string) bool {
	for _, e := range edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

// Expand runs one unit of work on b. Branches fan out as successors; a
// complete mapping becomes a Result. With inline set, a lone surviving
// candidate is extended in-process rather than re-queued.
func (x *Expander) Expand(ctx context.Context, b backbone.Backbone, inline bool) (Expansion, error) {
	ctx, span := x.tracer.Start(ctx, "Expander.Expand")
	defer span.End()
	span.SetAttributes(
		attribute.String("job", b.JobID),
		attribute.Int("mapped", len(b.Mapping)),
	)

	for _, p := range b.Mapping {
		if !x.motif.Has(p.Motif) {
			return Expansion{}, fmt.Errorf("%w: unknown motif node %q", backbone.ErrMalformedMessage, p.Motif)
		}
	}

	var out Expansion
	mp := b.Mapping
	if len(mp) == x.motif.Len() {
		out.Results = append(out.Results, backbone.NewResult(b.JobID, mp))
		return out, nil
	}

	for {
		u := x.NextNode(mp)
		cands, err := x.Candidates(ctx, mp, u)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "candidate lookup failed")
			return Expansion{}, err
		}
		out.Steps++

		if len(cands) == 0 {
			return out, nil
		}
		if len(cands) == 1 && inline && len(mp)+1 < x.motif.Len() {
			mp = mp.With(u, cands[0])
			continue
		}

		for _, c := range cands {
			next := mp.With(u, c)
			if len(next) == x.motif.Len() {
				out.Results = append(out.Results, backbone.NewResult(b.JobID, next))
				continue
			}
			out.Successors = append(out.Successors, backbone.Backbone{
				JobID:       b.JobID,
				MotifDigest: b.MotifDigest,
				Mapping:     next,
				Frontier:    x.Frontier(next),
			})
		}
		span.SetAttributes(
			attribute.Int("successors", len(out.Successors)),
			attribute.Int("results", len(out.Results)),
		)
		return out, nil
	}
}
