// Package blobstore defines the abstract durable key→bytes contract the
// core depends on, and its three implementations: a local-directory store
// (the default deployment), an in-memory store (for tests), and an
// S3-compatible remote store (production archive backend).
package blobstore

import (
	"context"
	"sort"
)

// Store is the durable key→bytes map the ArchiveTier is built on. Every
// implementation must satisfy: Put is atomically visible to Get (no
// partial writes observed), Get returns the bytes of the most recent
// successful Put, Delete is idempotent, and List returns keys in
// lexicographic order.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// sortedKeys returns keys sorted lexicographically, the List contract's
// ordering guarantee.
func sortedKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return out
}
