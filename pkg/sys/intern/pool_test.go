package intern

import (
	"fmt"
	"sync"
	"testing"
)

func TestPool_RoundTrip(t *testing.T) {
	p := New(4)

	if id := p.ID(""); id != InvalidID {
		t.Fatalf("empty string should map to InvalidID, got %d", id)
	}

	a := p.ID("a")
	b := p.ID("b")
	if a == b {
		t.Fatalf("distinct strings share id %d", a)
	}
	if again := p.ID("a"); again != a {
		t.Errorf("expected stable id %d, got %d", a, again)
	}
	if s := p.Str(b); s != "b" {
		t.Errorf("expected b, got %q", s)
	}
	if s := p.Str(99); s != "" {
		t.Errorf("unknown id should be empty, got %q", s)
	}
	if _, ok := p.Lookup("c"); ok {
		t.Error("Lookup must not allocate")
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", p.Len())
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := New(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s := fmt.Sprintf("n%d", i)
				if p.Str(p.ID(s)) != s {
					t.Errorf("round trip failed for %s", s)
				}
			}
		}()
	}
	wg.Wait()
	if p.Len() != 100 {
		t.Errorf("expected 100 entries, got %d", p.Len())
	}
}
