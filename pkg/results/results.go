// Package results persists completed mappings. Writes are idempotent on
// the result key, so duplicate deliveries collapse to one stored result.
package results

import (
	"context"

	"github.com/DrSkyle/grandiso/pkg/backbone"
)

// ScanFunc receives stored results. Returning an error stops the scan.
type ScanFunc func(backbone.Result) error

// Store is the result store contract.
type Store interface {
	Put(ctx context.Context, r backbone.Result) error
	// Scan visits every stored result of the job. It may run while workers
	// are still writing and then returns a partial set.
	Scan(ctx context.Context, jobID string, fn ScanFunc) error
	// Delete removes every result of the job.
	Delete(ctx context.Context, jobID string) error
}

// Collect scans a job into a slice.
func Collect(ctx context.Context, s Store, jobID string) ([]backbone.Result, error) {
	var out []backbone.Result
	err := s.Scan(ctx, jobID, func(r backbone.Result) error {
		out = append(out, r)
		return nil
	})
	return out, err
}
