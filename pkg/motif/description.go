package motif

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Description is the tagged, serializable form of a motif. Every loader
// produces one; Build validates it into a Motif.
type Description struct {
	Directed bool              `json:"directed" yaml:"directed"`
	Nodes    []NodeDescription `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Edges    []EdgeDescription `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`
}

// NodeDescription declares one motif node.
type NodeDescription struct {
	ID         string            `json:"id" yaml:"id" validate:"required,max=256"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" validate:"omitempty,dive,keys,required,endkeys"`
}

// EdgeDescription declares one motif edge.
type EdgeDescription struct {
	Source     string            `json:"source" yaml:"source" validate:"required"`
	Target     string            `json:"target" yaml:"target" validate:"required"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" validate:"omitempty,dive,keys,required,endkeys"`
}

// Build validates the description and returns the Motif.
func (d Description) Build() (*Motif, error) {
	if err := validate.Struct(d); err != nil {
		return nil, formatValidationError(err)
	}

	nodes := make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		nodes[i] = Node{ID: n.ID, Attributes: Attributes(n.Attributes)}
	}
	edges := make([]Edge, len(d.Edges))
	for i, e := range d.Edges {
		edges[i] = Edge{Source: e.Source, Target: e.Target, Attributes: Attributes(e.Attributes)}
	}
	return New(d.Directed, nodes, edges)
}

// implyNodes declares, in first-seen order, every edge endpoint missing from
// the node list. Only edge-list style sources use it.
func (d *Description) implyNodes() {
	declared := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		declared[n.ID] = true
	}
	for _, e := range d.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if id != "" && !declared[id] {
				declared[id] = true
				d.Nodes = append(d.Nodes, NodeDescription{ID: id})
			}
		}
	}
}

// Digest is a stable fingerprint of the motif's structure and constraints.
// Workers compare it against the job record to reject stale messages.
func (m *Motif) Digest() string {
	var b strings.Builder
	b.WriteString(strconv.FormatBool(m.directed))
	b.WriteByte('|')

	ids := m.NodeIDs()
	sort.Strings(ids)
	for _, id := range ids {
		n, _ := m.Node(id)
		b.WriteString(id)
		writeAttrs(&b, n.Attributes)
		b.WriteByte(';')
	}
	b.WriteByte('|')

	keys := make([]string, 0, len(m.edges))
	for _, e := range m.edges {
		var eb strings.Builder
		s, t := e.Source, e.Target
		if !m.directed && s > t {
			s, t = t, s
		}
		eb.WriteString(s)
		eb.WriteString(">")
		eb.WriteString(t)
		writeAttrs(&eb, e.Attributes)
		keys = append(keys, eb.String())
	}
	sort.Strings(keys)
	b.WriteString(strings.Join(keys, ";"))

	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

func writeAttrs(b *strings.Builder, attrs Attributes) {
	if len(attrs) == 0 {
		return
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for _, k := range keys {
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(attrs[k]))
		b.WriteByte(',')
	}
	b.WriteByte('}')
}

// MarshalJSON encodes the motif as its Description.
func (m *Motif) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Describe())
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidMotif, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", fe.Namespace(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds maximum %s", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidMotif, strings.Join(msgs, "; "))
}
