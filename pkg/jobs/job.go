// Package jobs holds the explicit job record threaded through seeding,
// workers and the controller, and the registries that persist it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/DrSkyle/grandiso/pkg/motif"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

var validate = validator.New()

// Status is the recorded lifecycle state. Drained is never stored; it is
// inferred from an empty queue.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCancelled    Status = "cancelled"
	StatusDrained      Status = "drained"
)

// Job is the explicit job record.
type Job struct {
	ID    string            `json:"id" validate:"required,max=128,excludesall=/\\"`
	Motif motif.Description `json:"motif"`
	// MotifDigest pins the motif; backbones carrying another digest are stale.
	MotifDigest string `json:"motif_digest" validate:"required"`
	// Induced rejects host edges between mapped nodes that the motif lacks.
	Induced bool   `json:"induced"`
	Status  Status `json:"status" validate:"oneof=initializing running cancelled"`
	Queue   string `json:"queue"`
	Results string `json:"results"`
	Host    string `json:"host"`
	// Deadline, when set, stops new work like a cancellation.
	Deadline  time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Seeds counts backbones pushed at init; SeedResults counts results
	// written directly by seeding (motifs of one or two nodes).
	Seeds       int64 `json:"seeds"`
	SeedResults int64 `json:"seed_results"`
	// Version increments on every update.
	Version int64 `json:"version"`
}

// Validate checks the record's structural fields.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job record %q: %w", j.ID, err)
	}
	return nil
}

// Expired reports whether the job has a deadline at or before now.
func (j Job) Expired(now time.Time) bool {
	return !j.Deadline.IsZero() && !now.Before(j.Deadline)
}

// Accepting reports whether workers should still process the job's work.
// Seeds become visible while the job is initializing, so that state counts.
func (j Job) Accepting(now time.Time) bool {
	if j.Status != StatusInitializing && j.Status != StatusRunning {
		return false
	}
	return !j.Expired(now)
}

// BuildMotif validates the stored description.
func (j Job) BuildMotif() (*motif.Motif, error) {
	m, err := j.Motif.Build()
	if err != nil {
		return nil, err
	}
	if d := m.Digest(); d != j.MotifDigest {
		return nil, fmt.Errorf("job %s: motif digest %s does not match record %s", j.ID, d, j.MotifDigest)
	}
	return m, nil
}

// Registry persists job records.
type Registry interface {
	// Create stores a new record, failing with ErrJobExists.
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update applies fn to the current record and stores the result.
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Job, error)
}
