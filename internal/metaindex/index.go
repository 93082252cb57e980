// Package metaindex implements a bbolt-backed secondary time-range index
// over each series' blocks, used by DiskTier to prune candidate blocks
// without a linear scan once a series accumulates many of them. It is a
// derived, rebuildable accelerant, never a source of truth: the JSON
// manifest remains authoritative, and the index can always be thrown
// away and rebuilt from it.
package metaindex

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/bobrenjc93/count/internal/manifest"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketSeries       = []byte("series")
	subBucketEntries   = []byte("entries")
	subBucketTimeIndex = []byte("time_index")
)

// Index is a per-series time-range index, stored in one bbolt database
// shared across every series.
type Index struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens or creates the index database at path. noSync disables
// bbolt's fsync-per-commit durability guarantee: safe here because the
// index is rebuildable from the manifest on recovery, so a lost write is
// at worst a stale prune hint, never data loss.
func Open(path string, noSync bool, logger *zap.Logger) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metaindex: opening bbolt db: %w", err)
	}
	db.NoSync = noSync

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeries)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("metaindex: initializing schema: %w", err)
	}

	return &Index{db: db, logger: logger}, nil
}

func (ix *Index) ensureSeriesBuckets(tx *bbolt.Tx, series string) (*bbolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists(bucketSeries)
	if err != nil {
		return nil, err
	}
	sb, err := root.CreateBucketIfNotExists([]byte(series))
	if err != nil {
		return nil, err
	}
	for _, name := range [][]byte{subBucketEntries, subBucketTimeIndex} {
		if _, err := sb.CreateBucketIfNotExists(name); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

func (ix *Index) getSeriesBucket(tx *bbolt.Tx, series string) *bbolt.Bucket {
	root := tx.Bucket(bucketSeries)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(series))
}

// timeIndexKey sorts by StartTS ascending (big-endian byte order matches
// numeric order for non-negative int64s), then by path to disambiguate
// blocks sharing a start timestamp.
func timeIndexKey(e manifest.Entry) []byte {
	key := make([]byte, 8+len(e.Path))
	binary.BigEndian.PutUint64(key[:8], uint64(e.StartTS))
	copy(key[8:], e.Path)
	return key
}

func encodeEntry(e manifest.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (manifest.Entry, error) {
	var e manifest.Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return manifest.Entry{}, err
	}
	return e, nil
}

// Put records or updates one block entry's index rows for series.
func (ix *Index) Put(series string, e manifest.Entry) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		sb, err := ix.ensureSeriesBuckets(tx, series)
		if err != nil {
			return err
		}
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := sb.Bucket(subBucketEntries).Put([]byte(e.Path), data); err != nil {
			return err
		}
		return sb.Bucket(subBucketTimeIndex).Put(timeIndexKey(e), []byte(e.Path))
	})
}

// Remove deletes a block entry's index rows for series.
func (ix *Index) Remove(series, path string) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		sb := ix.getSeriesBucket(tx, series)
		if sb == nil {
			return nil
		}
		entries := sb.Bucket(subBucketEntries)
		raw := entries.Get([]byte(path))
		if raw == nil {
			return nil
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		if err := entries.Delete([]byte(path)); err != nil {
			return err
		}
		return sb.Bucket(subBucketTimeIndex).Delete(timeIndexKey(e))
	})
}

// Intersecting returns the entries for series whose [StartTS, EndTS]
// overlaps [tLo, tHi], pruned via the time index's cursor instead of a
// full scan: it walks forward from the first entry whose StartTS could
// still intersect tHi and stops as soon as StartTS exceeds tHi.
func (ix *Index) Intersecting(series string, tLo, tHi int64) ([]manifest.Entry, error) {
	var out []manifest.Entry
	err := ix.db.View(func(tx *bbolt.Tx) error {
		sb := ix.getSeriesBucket(tx, series)
		if sb == nil {
			return nil
		}
		entries := sb.Bucket(subBucketEntries)
		c := sb.Bucket(subBucketTimeIndex).Cursor()

		for k, path := c.First(); k != nil; k, path = c.Next() {
			startTS := int64(binary.BigEndian.Uint64(k[:8]))
			if startTS > tHi {
				break
			}
			raw := entries.Get(path)
			if raw == nil {
				continue
			}
			e, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			if e.EndTS >= tLo {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// RebuildSeries replaces series' index entirely with m's blocks, used on
// DiskTier startup recovery so the index always reflects the manifest
// that survived recovery, independent of whatever the index held before.
func (ix *Index) RebuildSeries(series string, m *manifest.Manifest) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketSeries)
		if err != nil {
			return err
		}
		if err := root.DeleteBucket([]byte(series)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		sb, err := root.CreateBucketIfNotExists([]byte(series))
		if err != nil {
			return err
		}
		entries, err := sb.CreateBucketIfNotExists(subBucketEntries)
		if err != nil {
			return err
		}
		timeIdx, err := sb.CreateBucketIfNotExists(subBucketTimeIndex)
		if err != nil {
			return err
		}
		for _, e := range m.Blocks {
			data, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := entries.Put([]byte(e.Path), data); err != nil {
				return err
			}
			if err := timeIdx.Put(timeIndexKey(e), []byte(e.Path)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bbolt database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
