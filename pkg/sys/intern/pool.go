package intern

import "sync"

// InvalidID is never handed out; it marks the empty string.
const InvalidID uint32 = 0

// Pool maps strings to dense 1-based ids and back. It is safe for
// concurrent use.
type Pool struct {
	mu      sync.RWMutex
	store   map[string]uint32
	reverse []string
}

// New returns an empty pool sized for hint strings.
func New(hint int) *Pool {
	return &Pool{
		store:   make(map[string]uint32, hint),
		reverse: make([]string, 0, hint),
	}
}

// ID returns the id for s, allocating one if necessary.
func (p *Pool) ID(s string) uint32 {
	if s == "" {
		return InvalidID
	}

	p.mu.RLock()
	id, ok := p.store[s]
	p.mu.RUnlock()
	if ok {
		return id
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check
	if id, ok := p.store[s]; ok {
		return id
	}

	// reverse[id-1] -> string.
	p.reverse = append(p.reverse, s)
	id = uint32(len(p.reverse))
	p.store[s] = id
	return id
}

// Lookup returns the id for s without allocating.
func (p *Pool) Lookup(s string) (uint32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.store[s]
	return id, ok
}

// Str returns the string for id, or "" if unknown.
func (p *Pool) Str(id uint32) string {
	if id == InvalidID {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := int(id) - 1
	if idx < 0 || idx >= len(p.reverse) {
		return ""
	}
	return p.reverse[idx]
}

// Len returns the number of interned strings.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.reverse)
}
