package graph

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// LoadEdgeList reads "source target [key=value ...]" lines into w. A line
// holding a single id adds an isolated node; '#' starts a comment. It
// returns the number of edges written.
func LoadEdgeList(ctx context.Context, r io.Reader, w Writer) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line, edges := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) == 1 {
			if err := w.AddNode(ctx, fields[0], nil); err != nil {
				return edges, fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}
		var attrs map[string]string
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return edges, fmt.Errorf("line %d: attribute %q is not key=value", line, kv)
			}
			if attrs == nil {
				attrs = make(map[string]string)
			}
			attrs[k] = v
		}
		if err := w.AddEdge(ctx, fields[0], fields[1], attrs); err != nil {
			return edges, fmt.Errorf("line %d: %w", line, err)
		}
		edges++
	}
	if err := sc.Err(); err != nil {
		return edges, fmt.Errorf("read edge list: %w", err)
	}
	return edges, nil
}

// LoadNodeLink reads node-link JSON ({"nodes": [...], "links": [...]}) into
// w. Members other than id/source/target become attributes; an
// "attributes" object is flattened. Undirected documents
// ("directed": false) are written as directed edges in link order.
func LoadNodeLink(ctx context.Context, data []byte, w Writer) (int, error) {
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("malformed node-link JSON")
	}
	doc := gjson.ParseBytes(data)

	var err error
	doc.Get("nodes").ForEach(func(_, n gjson.Result) bool {
		id := n.Get("id")
		if !id.Exists() {
			err = fmt.Errorf("node without id: %s", n.Raw)
			return false
		}
		err = w.AddNode(ctx, id.String(), flatten(n, "id"))
		return err == nil
	})
	if err != nil {
		return 0, err
	}

	links := doc.Get("links")
	if !links.Exists() {
		links = doc.Get("edges")
	}
	edges := 0
	links.ForEach(func(_, l gjson.Result) bool {
		err = w.AddEdge(ctx, l.Get("source").String(), l.Get("target").String(), flatten(l, "source", "target", "key"))
		if err == nil {
			edges++
		}
		return err == nil
	})
	return edges, err
}

func flatten(obj gjson.Result, skip ...string) map[string]string {
	var out map[string]string
	put := func(k, v string) {
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		for _, s := range skip {
			if key == s {
				return true
			}
		}
		if key == "attributes" && v.IsObject() {
			v.ForEach(func(ak, av gjson.Result) bool {
				put(ak.String(), av.String())
				return true
			})
			return true
		}
		put(key, v.String())
		return true
	})
	return out
}
