// Package queue is the durable, at-least-once work queue the engine uses as
// its call stack.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseNotFound is returned when acking or extending a lease that
// expired, was already acked, or never existed.
var ErrLeaseNotFound = errors.New("lease not found")

// Message is one leased delivery.
type Message struct {
	ID   string
	Body []byte
	// Receipt identifies this delivery's lease. It changes on redelivery.
	Receipt string
	// Deliveries counts how often the message has been handed out,
	// including this time.
	Deliveries int
}

// Stats is an approximate snapshot of queue depth.
type Stats struct {
	Visible  int64
	InFlight int64
}

// Empty reports whether no message is waiting or leased.
func (s Stats) Empty() bool { return s.Visible == 0 && s.InFlight == 0 }

// Queue is the contract every backend satisfies. A message popped and not
// acked before its lease expires becomes visible again.
type Queue interface {
	Push(ctx context.Context, bodies ...[]byte) error
	// Pop leases up to max messages, waiting up to wait for at least one.
	// It returns an empty slice, not an error, when nothing arrives.
	Pop(ctx context.Context, max int, lease, wait time.Duration) ([]Message, error)
	Ack(ctx context.Context, receipt string) error
	// Extend resets a lease to expire after d from now. d == 0 releases the
	// message for immediate redelivery.
	Extend(ctx context.Context, receipt string, d time.Duration) error
	// Purge drops every message, leased or not.
	Purge(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
