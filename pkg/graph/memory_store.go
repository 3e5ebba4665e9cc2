package graph

import (
	"context"
	"sync"

	"github.com/DrSkyle/grandiso/pkg/sys/intern"
)

type memEdge struct {
	target uint32
	attrs  map[string]string
}

// MemoryStore is an in-memory host graph. Edges are directed; undirected
// searches read them with Both.
type MemoryStore struct {
	mu           sync.RWMutex
	ids          *intern.Pool
	keys         []uint32 // Index -> Interned String ID
	attrs        []map[string]string
	edges        [][]memEdge
	reverseEdges [][]memEdge
	idMap        map[uint32]uint32 // Interned String ID -> Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:          intern.New(1000),
		keys:         make([]uint32, 0, 1000),
		attrs:        make([]map[string]string, 0, 1000),
		edges:        make([][]memEdge, 0, 1000),
		reverseEdges: make([][]memEdge, 0, 1000),
		idMap:        make(map[uint32]uint32),
	}
}

// AddNode inserts a node or merges attrs into an existing one.
func (s *MemoryStore) AddNode(_ context.Context, id string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.ensure(id)
	if len(attrs) == 0 {
		return nil
	}
	if s.attrs[idx] == nil {
		s.attrs[idx] = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		s.attrs[idx][k] = v
	}
	return nil
}

// AddEdge inserts source->target. An identical edge is not added twice.
func (s *MemoryStore) AddEdge(_ context.Context, source, target string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.ensure(source)
	dst := s.ensure(target)

	// Check duplicates.
	for _, e := range s.edges[src] {
		if e.target == dst && equalAttrs(e.attrs, attrs) {
			return nil
		}
	}

	a := cloneAttrs(attrs)
	s.edges[src] = append(s.edges[src], memEdge{target: dst, attrs: a})
	s.reverseEdges[dst] = append(s.reverseEdges[dst], memEdge{target: src, attrs: a})
	return nil
}

// ensure returns the index for id, creating the node. Caller holds mu.
func (s *MemoryStore) ensure(id string) uint32 {
	key := s.ids.ID(id)
	if idx, ok := s.idMap[key]; ok {
		return idx
	}
	idx := uint32(len(s.attrs))
	s.keys = append(s.keys, key)
	s.attrs = append(s.attrs, nil)
	s.edges = append(s.edges, nil)
	s.reverseEdges = append(s.reverseEdges, nil)
	s.idMap[key] = idx
	return idx
}

func (s *MemoryStore) index(id string) (uint32, bool) {
	key, ok := s.ids.Lookup(id)
	if !ok {
		return 0, false
	}
	idx, ok := s.idMap[key]
	return idx, ok
}

// NodeCount returns the number of nodes.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attrs)
}

// EdgeCount returns the number of directed edges.
func (s *MemoryStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, es := range s.edges {
		n += len(es)
	}
	return n
}

func (s *MemoryStore) NodeExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index(id)
	return ok, nil
}

func (s *MemoryStore) NodeAttributes(_ context.Context, id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index(id)
	if !ok {
		return nil, ErrNodeNotFound
	}
	// Return copy.
	return cloneAttrs(s.attrs[idx]), nil
}

func (s *MemoryStore) Neighbors(_ context.Context, id string, dir Direction) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index(id)
	if !ok {
		return nil, nil
	}

	var res []Neighbor
	if dir == Out || dir == Both {
		for _, e := range s.edges[idx] {
			res = append(res, Neighbor{ID: s.nodeID(e.target), Attributes: cloneAttrs(e.attrs)})
		}
	}
	if dir == In || dir == Both {
		for _, e := range s.reverseEdges[idx] {
			res = append(res, Neighbor{ID: s.nodeID(e.target), Attributes: cloneAttrs(e.attrs)})
		}
	}
	return res, nil
}

// nodeID resolves an index back to its string id. Caller holds mu.
func (s *MemoryStore) nodeID(idx uint32) string {
	return s.ids.Str(s.keys[idx])
}

func (s *MemoryStore) ScanNodes(ctx context.Context, match map[string]string, fn NodeFunc) error {
	type hit struct {
		id    string
		attrs map[string]string
	}

	s.mu.RLock()
	hits := make([]hit, 0)
	for idx, attrs := range s.attrs {
		if matches(match, attrs) {
			hits = append(hits, hit{id: s.nodeID(uint32(idx)), attrs: cloneAttrs(attrs)})
		}
	}
	s.mu.RUnlock()

	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(h.id, h.attrs); err != nil {
			return err
		}
	}
	return nil
}
