package motif

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Load reads a motif file, choosing the format by extension:
// .yaml/.yml, .json (node-link), .hcl, anything else is an edge list.
// directed is the default for formats that do not state it.
func Load(path string, directed bool) (*Motif, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read motif %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data, directed)
	case ".json":
		return FromNodeLink(data, directed)
	case ".hcl":
		return FromHCL(path, data, directed)
	default:
		return FromEdgeList(bytes.NewReader(data), directed)
	}
}

// FromYAML parses a Description document:
//
//	directed: true
//	nodes:
//	  - id: a
//	    attributes: {type: neuron}
//	edges:
//	  - {source: a, target: b}
func FromYAML(data []byte, directed bool) (*Motif, error) {
	var raw struct {
		Directed *bool            `yaml:"directed"`
		Nodes    []NodeDescription `yaml:"nodes"`
		Edges    []EdgeDescription `yaml:"edges"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidMotif, err)
	}
	d := Description{Directed: directed, Nodes: raw.Nodes, Edges: raw.Edges}
	if raw.Directed != nil {
		d.Directed = *raw.Directed
	}
	return d.Build()
}

// FromNodeLink parses node-link JSON: {"directed": bool, "nodes": [{"id": ..}],
// "links": [{"source": .., "target": ..}]}. "edges" is accepted for "links".
// Any other node or link member is an attribute constraint.
func FromNodeLink(data []byte, directed bool) (*Motif, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMotif)
	}
	doc := gjson.ParseBytes(data)

	d := Description{Directed: directed}
	if v := doc.Get("directed"); v.Exists() {
		d.Directed = v.Bool()
	}

	var nodeErr error
	doc.Get("nodes").ForEach(func(_, n gjson.Result) bool {
		id := n.Get("id")
		if !id.Exists() {
			nodeErr = fmt.Errorf("%w: node without id: %s", ErrInvalidMotif, n.Raw)
			return false
		}
		d.Nodes = append(d.Nodes, NodeDescription{
			ID:         id.String(),
			Attributes: extraMembers(n, "id"),
		})
		return true
	})
	if nodeErr != nil {
		return nil, nodeErr
	}

	links := doc.Get("links")
	if !links.Exists() {
		links = doc.Get("edges")
	}
	links.ForEach(func(_, l gjson.Result) bool {
		d.Edges = append(d.Edges, EdgeDescription{
			Source:     l.Get("source").String(),
			Target:     l.Get("target").String(),
			Attributes: extraMembers(l, "source", "target", "key"),
		})
		return true
	})

	return d.Build()
}

func extraMembers(obj gjson.Result, skip ...string) map[string]string {
	var out map[string]string
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		for _, s := range skip {
			if key == s {
				return true
			}
		}
		if key == "attributes" && v.IsObject() {
			v.ForEach(func(ak, av gjson.Result) bool {
				if out == nil {
					out = make(map[string]string)
				}
				out[ak.String()] = av.String()
				return true
			})
			return true
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = v.String()
		return true
	})
	return out
}

// FromEdgeList parses one edge per line: "a b" (whitespace or comma
// separated), optionally followed by key=value edge attributes. Blank lines
// and lines starting with '#' are skipped. Nodes are implied by the edges; a
// line with a single id declares an isolated node.
func FromEdgeList(r io.Reader, directed bool) (*Motif, error) {
	d := Description{Directed: directed}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		switch {
		case len(fields) == 1:
			d.Nodes = append(d.Nodes, NodeDescription{ID: fields[0]})
		default:
			e := EdgeDescription{Source: fields[0], Target: fields[1]}
			for _, kv := range fields[2:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("%w: line %d: attribute %q is not key=value", ErrInvalidMotif, line, kv)
				}
				if e.Attributes == nil {
					e.Attributes = make(map[string]string)
				}
				e.Attributes[k] = v
			}
			d.Edges = append(d.Edges, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read edge list: %w", err)
	}
	d.implyNodes()
	return d.Build()
}
