package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DrSkyle/grandiso/pkg/storage"
)

// Blob stores jobs/<id>.json in a BlobStore. Create and Update are only
// atomic within one process; concurrent writers across hosts should use
// the DynamoDB registry.
type Blob struct {
	mu    sync.Mutex
	store storage.BlobStore
}

func NewBlob(store storage.BlobStore) *Blob {
	return &Blob{store: store}
}

func blobKey(id string) string { return "jobs/" + id + ".json" }

func (b *Blob) put(ctx context.Context, j Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return b.store.Put(ctx, blobKey(j.ID), data)
}

func (b *Blob) Create(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.get(ctx, j.ID); err == nil {
		return ErrJobExists
	} else if !errors.Is(err, ErrJobNotFound) {
		return err
	}
	return b.put(ctx, j)
}

func (b *Blob) get(ctx context.Context, id string) (Job, error) {
	data, err := b.store.Get(ctx, blobKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("read job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return j, nil
}

func (b *Blob) Get(ctx context.Context, id string) (Job, error) {
	return b.get(ctx, id)
}

func (b *Blob) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, err := b.get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if err := fn(&j); err != nil {
		return Job{}, err
	}
	j.ID = id
	j.Version++
	j.UpdatedAt = time.Now().UTC()
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, b.put(ctx, j)
}

func (b *Blob) Delete(ctx context.Context, id string) error {
	return b.store.Delete(ctx, blobKey(id))
}

func (b *Blob) List(ctx context.Context) ([]Job, error) {
	keys, err := b.store.List(ctx, "jobs/")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out []Job
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		j, err := b.get(ctx, strings.TrimSuffix(strings.TrimPrefix(k, "jobs/"), ".json"))
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
