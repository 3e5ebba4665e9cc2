package motif

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
	}{
		{"empty", nil, nil},
		{"blank id", []Node{{ID: ""}}, nil},
		{"duplicate node", []Node{{ID: "a"}, {ID: "a"}}, nil},
		{"undeclared endpoint", []Node{{ID: "a"}}, []Edge{{Source: "a", Target: "z"}}},
		{"duplicate undirected edge", []Node{{ID: "a"}, {ID: "b"}},
			[]Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(false, tt.nodes, tt.edges)
			if !errors.Is(err, ErrInvalidMotif) {
				t.Fatalf("New() error = %v, want ErrInvalidMotif", err)
			}
		})
	}
}

func TestNew_DirectedAllowsBothOrientations(t *testing.T) {
	m, err := New(true, []Node{{ID: "a"}, {ID: "b"}},
		[]Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.OutDegree("a"))
	assert.Equal(t, 1, m.InDegree("a"))
	assert.Len(t, m.EdgesBetween("a", "b"), 2)
}

func TestMotif_Structure(t *testing.T) {
	m, err := New(false,
		[]Node{{ID: "a", Attributes: Attributes{"kind": "x"}}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		[]Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}, {Source: "a", Target: "a"}})
	require.NoError(t, err)

	assert.Equal(t, 4, m.Len())
	assert.Equal(t, 3, m.Degree("a"), "self-loop counts twice")
	assert.Equal(t, []string{"b"}, m.Neighbors("a"))
	assert.Equal(t, []string{"a", "c"}, m.Neighbors("b"))
	assert.True(t, m.Adjacent("c", "b"))
	assert.False(t, m.Adjacent("a", "c"))
	assert.Len(t, m.EdgesBetween("a", "a"), 1)
	assert.True(t, m.Constrained("a"))
	assert.False(t, m.Constrained("b"))
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, m.Components())
}

func TestAttributes_Matches(t *testing.T) {
	want := Attributes{"type": "neuron"}
	assert.True(t, want.Matches(map[string]string{"type": "neuron", "size": "3"}))
	assert.False(t, want.Matches(map[string]string{"type": "glia"}))
	assert.False(t, want.Matches(nil))
	assert.True(t, Attributes(nil).Matches(nil))
}

func TestDigest(t *testing.T) {
	a, err := New(false, []Node{{ID: "x"}, {ID: "y"}}, []Edge{{Source: "x", Target: "y"}})
	require.NoError(t, err)
	b, err := New(false, []Node{{ID: "y"}, {ID: "x"}}, []Edge{{Source: "y", Target: "x"}})
	require.NoError(t, err)
	assert.Equal(t, a.Digest(), b.Digest(), "declaration order does not matter")

	directed, err := New(true, []Node{{ID: "x"}, {ID: "y"}}, []Edge{{Source: "x", Target: "y"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), directed.Digest())

	constrained, err := New(false, []Node{{ID: "x", Attributes: Attributes{"k": "v"}}, {ID: "y"}},
		[]Edge{{Source: "x", Target: "y"}})
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), constrained.Digest())
}

func TestDescribe_RoundTrip(t *testing.T) {
	m, err := New(true,
		[]Node{{ID: "a", Attributes: Attributes{"t": "1"}}, {ID: "b"}},
		[]Edge{{Source: "a", Target: "b", Attributes: Attributes{"w": "2"}}})
	require.NoError(t, err)
	back, err := m.Describe().Build()
	require.NoError(t, err)
	assert.Equal(t, m.Digest(), back.Digest())
}

func TestFromYAML(t *testing.T) {
	src := `
directed: true
nodes:
  - id: a
    attributes: {type: neuron}
  - id: b
edges:
  - {source: a, target: b, attributes: {weight: "5"}}
`
	m, err := FromYAML([]byte(src), false)
	require.NoError(t, err)
	assert.True(t, m.Directed())
	n, _ := m.Node("a")
	assert.Equal(t, "neuron", n.Attributes["type"])
	assert.Equal(t, "5", m.Edges()[0].Attributes["weight"])

	_, err = FromYAML([]byte("nodes: []"), false)
	assert.True(t, errors.Is(err, ErrInvalidMotif))
}

func TestFromNodeLink(t *testing.T) {
	src := `{
  "directed": false,
  "nodes": [{"id": "a", "color": "red"}, {"id": "b", "attributes": {"size": 2}}],
  "links": [{"source": "a", "target": "b", "key": 0, "rel": "syn"}]
}`
	m, err := FromNodeLink([]byte(src), true)
	require.NoError(t, err)
	assert.False(t, m.Directed())
	a, _ := m.Node("a")
	assert.Equal(t, Attributes{"color": "red"}, a.Attributes)
	b, _ := m.Node("b")
	assert.Equal(t, Attributes{"size": "2"}, b.Attributes)
	assert.Equal(t, Attributes{"rel": "syn"}, m.Edges()[0].Attributes)

	_, err = FromNodeLink([]byte(`{"nodes": [{"name": "a"}]}`), false)
	assert.True(t, errors.Is(err, ErrInvalidMotif))
	_, err = FromNodeLink([]byte(`{nodes`), false)
	assert.True(t, errors.Is(err, ErrInvalidMotif))
}

func TestFromEdgeList(t *testing.T) {
	src := "# triangle\na b\nb,c rel=syn\n\nc a\nlonely\n"
	m, err := FromEdgeList(strings.NewReader(src), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"lonely", "a", "b", "c"}, m.NodeIDs())
	assert.Len(t, m.Edges(), 3)
	assert.Equal(t, "syn", m.Edges()[1].Attributes["rel"])

	_, err = FromEdgeList(strings.NewReader("a b weight\n"), false)
	assert.True(t, errors.Is(err, ErrInvalidMotif))
}

func TestFromHCL(t *testing.T) {
	src := `
directed = true
node "a" {
  attributes = { type = "neuron", layer = 4 }
}
node "b" {}
edge "a" "b" {}
`
	m, err := FromHCL("motif.hcl", []byte(src), false)
	require.NoError(t, err)
	assert.True(t, m.Directed())
	a, _ := m.Node("a")
	assert.Equal(t, Attributes{"type": "neuron", "layer": "4"}, a.Attributes)

	_, err = FromHCL("bad.hcl", []byte(`node "a" { attributes = "x" }`), false)
	assert.True(t, errors.Is(err, ErrInvalidMotif))
}

func TestLoad_ChoosesFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"m.yaml": "nodes: [{id: a}, {id: b}]\nedges: [{source: a, target: b}]\n",
		"m.json": `{"nodes": [{"id": "a"}, {"id": "b"}], "links": [{"source": "a", "target": "b"}]}`,
		"m.hcl":  "node \"a\" {}\nnode \"b\" {}\nedge \"a\" \"b\" {}\n",
		"m.txt":  "a b\n",
	}
	var digest string
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		m, err := Load(path, false)
		require.NoError(t, err, name)
		if digest == "" {
			digest = m.Digest()
		}
		assert.Equal(t, digest, m.Digest(), name)
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"), false)
	assert.Error(t, err)
}

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind(4)
	uf.Union(0, 1)
	uf.Union(2, 3)
	assert.True(t, uf.Connected(0, 1))
	assert.False(t, uf.Connected(1, 2))
	uf.Union(1, 3)
	assert.True(t, uf.Connected(0, 2))
	assert.Equal(t, -1, uf.Find(9))

	uf = NewUnionFind(5)
	uf.Union(3, 1)
	uf.Union(4, 0)
	assert.Equal(t, [][]int{{0, 4}, {1, 3}, {2}}, uf.Groups())
}
