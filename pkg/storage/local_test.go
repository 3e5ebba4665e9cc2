package storage

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	if err := s.Put(ctx, "jobs/a/1.json", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "jobs/a/2.json", []byte("two")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "jobs/b/1.json", []byte("other")); err != nil {
		t.Fatal(err)
	}

	data, err := s.Get(ctx, "jobs/a/2.json")
	if err != nil || string(data) != "two" {
		t.Fatalf("expected two, got %q (%v)", data, err)
	}

	keys, err := s.List(ctx, "jobs/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "jobs/a/1.json" || keys[1] != "jobs/a/2.json" {
		t.Errorf("unexpected keys %v", keys)
	}

	if keys, _ := s.List(ctx, "missing"); len(keys) != 0 {
		t.Errorf("missing prefix should list nothing, got %v", keys)
	}

	if err := s.Delete(ctx, "jobs/a/1.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "jobs/a/1.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "jobs/a/1.json"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}
