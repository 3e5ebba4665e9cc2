package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/DrSkyle/grandiso/pkg/backbone"
	"github.com/DrSkyle/grandiso/pkg/storage"
)

// Blob stores each result as results/<job>/<key>.json in a BlobStore.
// Equal results land on the same object.
type Blob struct {
	store storage.BlobStore
}

func NewBlob(store storage.BlobStore) *Blob {
	return &Blob{store: store}
}

func jobPrefix(jobID string) string {
	return path.Join("results", jobID) + "/"
}

func (b *Blob) Put(ctx context.Context, r backbone.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return b.store.Put(ctx, jobPrefix(r.JobID)+r.Key()+".json", data)
}

func (b *Blob) Scan(ctx context.Context, jobID string, fn ScanFunc) error {
	keys, err := b.store.List(ctx, jobPrefix(jobID))
	if err != nil {
		return fmt.Errorf("list results of %s: %w", jobID, err)
	}
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		data, err := b.store.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between List and Get.
			continue
		}
		if err != nil {
			return fmt.Errorf("read result %s: %w", k, err)
		}
		var r backbone.Result
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode result %s: %w", k, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blob) Delete(ctx context.Context, jobID string) error {
	keys, err := b.store.List(ctx, jobPrefix(jobID))
	if err != nil {
		return fmt.Errorf("list results of %s: %w", jobID, err)
	}
	for _, k := range keys {
		if err := b.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
