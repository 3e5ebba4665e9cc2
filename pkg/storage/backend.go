// Package storage abstracts the blob backends used for results and job
// records when no table store is configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey rejects empty, absolute or parent-relative keys.
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobStore is a flat key space. Keys are slash-separated on every backend
// and List matches by key prefix.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey normalizes key. Job ids end up in keys, so ".." must not reach
// the filesystem.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}
