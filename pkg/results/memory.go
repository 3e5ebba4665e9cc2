package results

import (
	"context"
	"sort"
	"sync"

	"github.com/DrSkyle/grandiso/pkg/backbone"
)

// Memory keeps results in process, keyed by job and result key.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]map[string]backbone.Result
	puts int
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]map[string]backbone.Result)}
}

func (m *Memory) Put(_ context.Context, r backbone.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := m.jobs[r.JobID]
	if byKey == nil {
		byKey = make(map[string]backbone.Result)
		m.jobs[r.JobID] = byKey
	}
	byKey[r.Key()] = r
	m.puts++
	return nil
}

// Scan visits results in key order.
func (m *Memory) Scan(ctx context.Context, jobID string, fn ScanFunc) error {
	m.mu.RLock()
	byKey := m.jobs[jobID]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	snapshot := make([]backbone.Result, 0, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		snapshot = append(snapshot, byKey[k])
	}
	m.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

// Puts counts Put calls, duplicates included.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
