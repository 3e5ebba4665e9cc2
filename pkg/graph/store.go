// Package graph defines the read-only host graph port the search engine
// queries, plus an in-memory implementation and a lookup cache.
package graph

import (
	"context"
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned by attribute lookups for unknown nodes.
var ErrNodeNotFound = errors.New("host node not found")

// Direction selects which edges Neighbors follows.
type Direction int

const (
	// Out follows edges leaving the node.
	Out Direction = iota
	// In follows edges entering the node.
	In
	// Both returns Out followed by In, ignoring direction.
	Both
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case In:
		return "in"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Neighbor is one edge seen from a node: the node at the other end and the
// edge's attributes. A pair joined by several edges yields several entries.
type Neighbor struct {
	ID         string
	Attributes map[string]string
}

// NodeFunc receives nodes from ScanNodes. Returning an error stops the scan.
type NodeFunc func(id string, attrs map[string]string) error

// HostGraph is the read-only accessor the engine uses. Implementations must
// be safe for concurrent use and must not require materializing the graph.
type HostGraph interface {
	NodeExists(ctx context.Context, id string) (bool, error)
	NodeAttributes(ctx context.Context, id string) (map[string]string, error)
	Neighbors(ctx context.Context, id string, dir Direction) ([]Neighbor, error)
	// ScanNodes calls fn for every node whose attributes contain all of
	// match. A nil match visits every node.
	ScanNodes(ctx context.Context, match map[string]string, fn NodeFunc) error
}

// Writer is implemented by stores that can be loaded. AddEdge creates
// missing endpoints.
type Writer interface {
	AddNode(ctx context.Context, id string, attrs map[string]string) error
	AddEdge(ctx context.Context, source, target string, attrs map[string]string) error
}

// matches reports whether attrs contains every key/value in want.
func matches(want, attrs map[string]string) bool {
	for k, v := range want {
		if hv, ok := attrs[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func cloneAttrs(a map[string]string) map[string]string {
	if a == nil {
		return nil
	}
	out := make(map[string]string, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func equalAttrs(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	return matches(a, b)
}
