// Package backbone defines the unit of work exchanged through the queue: a
// verified, injective partial mapping of motif nodes onto host nodes.
package backbone

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Pair assigns one motif node to one host node.
type Pair struct {
	Motif string `json:"m"`
	Host  string `json:"h"`
}

// Mapping is an ordered, append-only assignment list.
type Mapping []Pair

// Host returns the host node assigned to motif node m.
func (mp Mapping) Host(m string) (string, bool) {
	for _, p := range mp {
		if p.Motif == m {
			return p.Host, true
		}
	}
	return "", false
}

// Mapped reports whether motif node m is assigned.
func (mp Mapping) Mapped(m string) bool {
	_, ok := mp.Host(m)
	return ok
}

// Uses reports whether host node h is already a mapping value.
func (mp Mapping) Uses(h string) bool {
	for _, p := range mp {
		if p.Host == h {
			return true
		}
	}
	return false
}

// With returns a copy of mp extended by (m, h). mp is not modified.
func (mp Mapping) With(m, h string) Mapping {
	out := make(Mapping, len(mp), len(mp)+1)
	copy(out, mp)
	return append(out, Pair{Motif: m, Host: h})
}

// Map returns the mapping as motif id -> host id.
func (mp Mapping) Map() map[string]string {
	out := make(map[string]string, len(mp))
	for _, p := range mp {
		out[p.Motif] = p.Host
	}
	return out
}

// Backbone is one queued partial match.
type Backbone struct {
	JobID string `json:"job"`
	// MotifDigest pins the motif the mapping was verified against.
	MotifDigest string  `json:"motif"`
	Mapping     Mapping `json:"mapping"`
	// Frontier lists the unmapped motif nodes adjacent to the mapping,
	// sorted. Empty when the remaining nodes are disconnected from it.
	Frontier []string `json:"frontier,omitempty"`
}

// Key identifies the backbone's content. Redelivered copies share it.
func (b Backbone) Key() string {
	var sb strings.Builder
	sb.WriteString(b.JobID)
	for _, p := range b.Mapping {
		sb.WriteByte('|')
		sb.WriteString(p.Motif)
		sb.WriteByte('=')
		sb.WriteString(p.Host)
	}
	return strconv.FormatUint(xxhash.Sum64String(sb.String()), 16)
}

// Result is a complete mapping of every motif node.
type Result struct {
	JobID   string            `json:"job_id"`
	Mapping map[string]string `json:"mapping"`
}

// NewResult converts a complete mapping into a Result.
func NewResult(jobID string, mp Mapping) Result {
	return Result{JobID: jobID, Mapping: mp.Map()}
}

// Canonical renders the mapping with motif ids sorted; equal mappings
// render identically whatever order they were discovered in.
func (r Result) Canonical() string {
	keys := make([]string, 0, len(r.Mapping))
	for k := range r.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(r.Mapping[k]))
	}
	return sb.String()
}

// Key is the dedupe key used by result stores: a hash of the canonical
// mapping. Results of the same job with the same mapping share it.
func (r Result) Key() string {
	return strconv.FormatUint(xxhash.Sum64String(r.Canonical()), 16)
}
