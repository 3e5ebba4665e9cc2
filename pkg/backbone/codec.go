package backbone

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// ErrMalformedMessage is returned for payloads that cannot be decoded.
// Redelivery cannot fix them, so workers drop them.
var ErrMalformedMessage = errors.New("malformed backbone message")

// envelope header: magic byte and format version.
var header = []byte{'G', 1}

// Encode serializes b as header + snappy(JSON).
func Encode(b Backbone) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode backbone: %w", err)
	}
	out := make([]byte, 0, len(header)+snappy.MaxEncodedLen(len(raw)))
	out = append(out, header...)
	return append(out, snappy.Encode(nil, raw)...), nil
}

// Decode parses an envelope produced by Encode. Plain JSON is accepted so
// that hand-written messages can be injected for debugging.
func Decode(data []byte) (Backbone, error) {
	var raw []byte
	switch {
	case bytes.HasPrefix(data, header):
		var err error
		raw, err = snappy.Decode(nil, data[len(header):])
		if err != nil {
			return Backbone{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case len(bytes.TrimSpace(data)) > 0 && bytes.TrimSpace(data)[0] == '{':
		raw = data
	default:
		return Backbone{}, fmt.Errorf("%w: unknown envelope", ErrMalformedMessage)
	}

	var b Backbone
	if err := json.Unmarshal(raw, &b); err != nil {
		return Backbone{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if b.JobID == "" {
		return Backbone{}, fmt.Errorf("%w: missing job id", ErrMalformedMessage)
	}
	if err := b.validate(); err != nil {
		return Backbone{}, err
	}
	return b, nil
}

// validate checks the structural invariants a decoded message must hold.
// Edge satisfaction is re-established by the worker, not here.
func (b Backbone) validate() error {
	motifs := make(map[string]bool, len(b.Mapping))
	hosts := make(map[string]bool, len(b.Mapping))
	for _, p := range b.Mapping {
		if p.Motif == "" || p.Host == "" {
			return fmt.Errorf("%w: empty pair", ErrMalformedMessage)
		}
		if motifs[p.Motif] {
			return fmt.Errorf("%w: motif node %q mapped twice", ErrMalformedMessage, p.Motif)
		}
		if hosts[p.Host] {
			return fmt.Errorf("%w: host node %q used twice", ErrMalformedMessage, p.Host)
		}
		motifs[p.Motif] = true
		hosts[p.Host] = true
	}
	return nil
}
