package motif

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

type hclMotif struct {
	Directed *bool     `hcl:"directed,optional"`
	Nodes    []hclNode `hcl:"node,block"`
	Edges    []hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID         string    `hcl:"id,label"`
	Attributes cty.Value `hcl:"attributes,optional"`
}

type hclEdge struct {
	Source     string    `hcl:"source,label"`
	Target     string    `hcl:"target,label"`
	Attributes cty.Value `hcl:"attributes,optional"`
}

// FromHCL parses a motif written as HCL blocks:
//
//	directed = true
//	node "a" { attributes = { type = "neuron" } }
//	node "b" {}
//	edge "a" "b" { attributes = { weight = 5 } }
//
// Attribute values of any primitive type are converted to strings.
func FromHCL(filename string, src []byte, directed bool) (*Motif, error) {
	var f hclMotif
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, fmt.Errorf("%w: hcl: %v", ErrInvalidMotif, err)
	}

	d := Description{Directed: directed}
	if f.Directed != nil {
		d.Directed = *f.Directed
	}
	for _, n := range f.Nodes {
		attrs, err := ctyAttributes(n.Attributes)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrInvalidMotif, n.ID, err)
		}
		d.Nodes = append(d.Nodes, NodeDescription{ID: n.ID, Attributes: attrs})
	}
	for _, e := range f.Edges {
		attrs, err := ctyAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("%w: edge %s-%s: %v", ErrInvalidMotif, e.Source, e.Target, err)
		}
		d.Edges = append(d.Edges, EdgeDescription{Source: e.Source, Target: e.Target, Attributes: attrs})
	}
	return d.Build()
}

func ctyAttributes(v cty.Value) (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("attributes must be known values")
	}
	if !v.CanIterateElements() || !(v.Type().IsObjectType() || v.Type().IsMapType()) {
		return nil, fmt.Errorf("attributes must be an object, got %s", v.Type().FriendlyName())
	}

	out := make(map[string]string)
	it := v.ElementIterator()
	for it.Next() {
		k, ev := it.Element()
		sv, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %v", k.AsString(), err)
		}
		if sv.IsNull() {
			return nil, fmt.Errorf("attribute %q is null", k.AsString())
		}
		out[k.AsString()] = sv.AsString()
	}
	return out, nil
}
