// Package filter narrows result sets with CEL expressions such as
//
//	m.a != m.b && attrs.a.type == 'neuron'
//
// where m maps motif node ids to host node ids and attrs maps motif node ids
// to the attributes of the host node they are mapped to.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/graph"
)

// Filter is a compiled result predicate. It is safe for concurrent use.
type Filter struct {
	expr string
	prg  cel.Program
	// host resolves attrs; nil leaves attrs empty.
	host      graph.HostGraph
	wantAttrs bool
}

// New compiles expr. The expression must evaluate to a bool.
func New(expr string, host graph.HostGraph) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("job", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("m", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.MapType(cel.StringType, cel.StringType))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter %q compilation error: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter %q program creation error: %w", expr, err)
	}

	return &Filter{
		expr:      expr,
		prg:       prg,
		host:      host,
		wantAttrs: host != nil && strings.Contains(expr, "attrs"),
	}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against one result.
func (f *Filter) Match(ctx context.Context, r backbone.Result) (bool, error) {
	attrs := map[string]map[string]string{}
	if f.wantAttrs {
		for m, h := range r.Mapping {
			a, err := f.host.NodeAttributes(ctx, h)
			if err != nil {
				return false, fmt.Errorf("attributes of %s: %w", h, err)
			}
			if a == nil {
				a = map[string]string{}
			}
			attrs[m] = a
		}
	}

	out, _, err := f.prg.ContextEval(ctx, map[string]any{
		"job":   r.JobID,
		"size":  len(r.Mapping),
		"m":     r.Mapping,
		"attrs": attrs,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.expr, err)
	}
	match, ok := out.Value().(bool)
	return ok && match, nil
}

// Apply keeps the results that match, preserving order.
func (f *Filter) Apply(ctx context.Context, rs []backbone.Result) ([]backbone.Result, error) {
	out := rs[:0:0]
	for _, r := range rs {
		ok, err := f.Match(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
