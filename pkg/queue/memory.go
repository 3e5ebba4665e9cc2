package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type memMessage struct {
	id         string
	body       []byte
	deliveries int
	receipt    string
	deadline   time.Time
}

// Memory is an in-process queue with real lease semantics.
type Memory struct {
	mu       sync.Mutex
	visible  []*memMessage
	inFlight map[string]*memMessage // receipt -> message
	notify   chan struct{}
	rng      *rand.Rand
	now      func() time.Time
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithShuffle makes Pop hand out visible messages in random order.
func WithShuffle(seed int64) MemoryOption {
	return func(m *Memory) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock replaces time.Now for lease bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inFlight: make(map[string]*memMessage),
		notify:   make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Push(_ context.Context, bodies ...[]byte) error {
	if len(bodies) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bodies {
		body := make([]byte, len(b))
		copy(body, b)
		m.visible = append(m.visible, &memMessage{id: ulid.Make().String(), body: body})
	}
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

func (m *Memory) Pop(ctx context.Context, max int, lease, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		m.reclaim()
		out := m.take(max, lease)
		ch := m.notify
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		// Leases may expire while we wait, so poll at least every 50ms.
		if remaining > 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// reclaim returns expired leases to the visible list. Caller holds mu.
func (m *Memory) reclaim() {
	now := m.now()
	for r, msg := range m.inFlight {
		if !now.Before(msg.deadline) {
			delete(m.inFlight, r)
			msg.receipt = ""
			m.visible = append(m.visible, msg)
		}
	}
}

// take leases up to max visible messages. Caller holds mu.
func (m *Memory) take(max int, lease time.Duration) []Message {
	n := len(m.visible)
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	if m.rng != nil {
		m.rng.Shuffle(len(m.visible), func(i, j int) {
			m.visible[i], m.visible[j] = m.visible[j], m.visible[i]
		})
	}

	out := make([]Message, 0, n)
	deadline := m.now().Add(lease)
	for _, msg := range m.visible[:n] {
		msg.deliveries++
		msg.receipt = uuid.NewString()
		msg.deadline = deadline
		m.inFlight[msg.receipt] = msg
		out = append(out, Message{ID: msg.id, Body: msg.body, Receipt: msg.receipt, Deliveries: msg.deliveries})
	}
	m.visible = append(m.visible[:0:0], m.visible[n:]...)
	return out
}

func (m *Memory) Ack(_ context.Context, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.inFlight[receipt]
	if !ok || !m.now().Before(msg.deadline) {
		return ErrLeaseNotFound
	}
	delete(m.inFlight, receipt)
	return nil
}

func (m *Memory) Extend(_ context.Context, receipt string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.inFlight[receipt]
	if !ok || !m.now().Before(msg.deadline) {
		return ErrLeaseNotFound
	}
	msg.deadline = m.now().Add(d)
	if d <= 0 {
		m.reclaim()
		close(m.notify)
		m.notify = make(chan struct{})
	}
	return nil
}

func (m *Memory) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = nil
	m.inFlight = make(map[string]*memMessage)
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaim()
	return Stats{Visible: int64(len(m.visible)), InFlight: int64(len(m.inFlight))}, nil
}

func (m *Memory) Close() error { return nil }
