package graph

import "context"

// Observed calls hook with the operation name ("exists", "attributes",
// "neighbors", "scan") before each lookup reaches next.
func Observed(next HostGraph, hook func(op string)) HostGraph {
	return &observed{next: next, hook: hook}
}

type observed struct {
	next HostGraph
	hook func(op string)
}

func (o *observed) NodeExists(ctx context.Context, id string) (bool, error) {
	o.hook("exists")
	return o.next.NodeExists(ctx, id)
}

func (o *observed) NodeAttributes(ctx context.Context, id string) (map[string]string, error) {
	o.hook("attributes")
	return o.next.NodeAttributes(ctx, id)
}

func (o *observed) Neighbors(ctx context.Context, id string, dir Direction) ([]Neighbor, error) {
	o.hook("neighbors")
	return o.next.Neighbors(ctx, id, dir)
}

func (o *observed) ScanNodes(ctx context.Context, match map[string]string, fn NodeFunc) error {
	o.hook("scan")
	return o.next.ScanNodes(ctx, match, fn)
}
