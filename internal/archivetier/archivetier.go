// Package archivetier implements the remote cold-storage tier: the same
// block/manifest model as disktier, addressed by key instead of path and
// committed through a blobstore.Store rather than the local filesystem.
// A block write always commits its manifest after the block itself, so a
// crash mid-write leaves an orphan block rather than a manifest entry
// pointing at nothing.
package archivetier

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/bobrenjc93/count/internal/block"
	"github.com/bobrenjc93/count/internal/blobstore"
	"github.com/bobrenjc93/count/internal/manifest"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// seriesState caches a series' manifest so reads take a snapshot instead
// of re-fetching the manifest object on every query. Reads hold the
// exclusive lock (not a reader lock) while they load and copy it, since
// the first access may fetch the manifest from the store.
type seriesState struct {
	mu       sync.RWMutex
	manifest *manifest.Manifest
	loaded   bool
}

// Tier stores compressed blocks in a blobstore.Store, keyed by
// <prefix>/<series>/manifest.json and <prefix>/<series>/block_<start>_<end>.
type Tier struct {
	store  blobstore.Store
	prefix string
	logger *zap.Logger

	mapMu  sync.RWMutex
	series map[string]*seriesState
}

// Open wraps a blobstore.Store as an ArchiveTier. It does not eagerly load
// any manifest; each series' manifest is fetched lazily on first access.
func Open(store blobstore.Store, prefix string, logger *zap.Logger) *Tier {
	return &Tier{
		store:  store,
		prefix: prefix,
		logger: logger,
		series: make(map[string]*seriesState),
	}
}

func (t *Tier) manifestKey(series string) string {
	return t.key(series, "manifest.json")
}

func (t *Tier) key(series, name string) string {
	if t.prefix == "" {
		return path.Join(series, name)
	}
	return path.Join(t.prefix, series, name)
}

func (t *Tier) getOrCreate(series string) *seriesState {
	t.mapMu.RLock()
	ss, ok := t.series[series]
	t.mapMu.RUnlock()
	if ok {
		return ss
	}

	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if ss, ok := t.series[series]; ok {
		return ss
	}
	ss = &seriesState{manifest: manifest.New(series)}
	t.series[series] = ss
	return ss
}

// loadLocked fetches the series' manifest from the store on first access.
// A missing manifest object means the series has never been archived and
// is treated as empty, not an error.
func (t *Tier) loadLocked(ctx context.Context, series string, ss *seriesState) error {
	if ss.loaded {
		return nil
	}
	data, err := t.store.Get(ctx, t.manifestKey(series))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ss.loaded = true
			return nil
		}
		return fmt.Errorf("archivetier: fetching manifest for %s: %w", series, err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return fmt.Errorf("archivetier: decoding manifest for %s: %w", series, err)
	}
	ss.manifest = m
	ss.loaded = true
	return nil
}

// PutBlock encodes points into one block, uploads it, then commits the
// updated manifest. The manifest upload is the commit point: a crash
// between the two leaves an unreferenced block object, harmless because
// nothing ever reads a block that is not in the manifest.
func (t *Tier) PutBlock(ctx context.Context, series string, points []types.Point) (manifest.Entry, error) {
	if len(points) == 0 {
		return manifest.Entry{}, fmt.Errorf("archivetier: cannot archive an empty block")
	}

	blk, err := block.Encode(points)
	if err != nil {
		return manifest.Entry{}, fmt.Errorf("archivetier: encoding block: %w", err)
	}

	ss := t.getOrCreate(series)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := t.loadLocked(ctx, series, ss); err != nil {
		return manifest.Entry{}, err
	}

	name := blockObjectName(series, blk.StartTS, blk.EndTS, ss.manifest)
	key := t.key(series, name)
	if err := t.store.Put(ctx, key, blk.Raw); err != nil {
		return manifest.Entry{}, fmt.Errorf("archivetier: uploading block %s: %w", key, err)
	}

	entry := manifest.Entry{
		Path:       name,
		StartTS:    blk.StartTS,
		EndTS:      blk.EndTS,
		PointCount: int64(blk.PointCount),
	}
	ss.manifest.Add(entry)
	data, err := ss.manifest.Encode()
	if err != nil {
		return manifest.Entry{}, err
	}
	if err := t.store.Put(ctx, t.manifestKey(series), data); err != nil {
		return manifest.Entry{}, fmt.Errorf("archivetier: committing manifest for %s: %w", series, err)
	}

	t.logger.Debug("block archived",
		zap.String("series", series),
		zap.String("key", key),
		zap.Int64("point_count", entry.PointCount),
	)
	return entry, nil
}

// blockObjectName names an archived block by its time range, disambiguating
// on collision against the manifest already in hand (no filesystem to
// os.Stat, unlike disktier.uniqueBlockFilename).
func blockObjectName(series string, startTS, endTS int64, m *manifest.Manifest) string {
	base := fmt.Sprintf("block_%d_%d", startTS, endTS)
	taken := make(map[string]bool, len(m.Blocks))
	for _, e := range m.Blocks {
		taken[e.Path] = true
	}
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// ReadRange decodes and returns every point of series within [tLo, tHi].
func (t *Tier) ReadRange(ctx context.Context, series string, tLo, tHi int64) ([]types.Point, bool, error) {
	ss := t.getOrCreate(series)
	ss.mu.Lock()
	if err := t.loadLocked(ctx, series, ss); err != nil {
		ss.mu.Unlock()
		return nil, false, err
	}
	entries := ss.manifest.Intersecting(tLo, tHi)
	ss.mu.Unlock()

	var out []types.Point
	ok := true
	for _, e := range entries {
		raw, err := t.store.Get(ctx, t.key(series, e.Path))
		if err != nil {
			t.logger.Warn("archivetier: block object unreadable", zap.String("key", e.Path), zap.Error(err))
			ok = false
			continue
		}
		blk, err := block.Decode(raw)
		if err != nil {
			t.logger.Warn("archivetier: corrupt block skipped", zap.String("key", e.Path), zap.Error(err))
			ok = false
			continue
		}
		pts, err := blk.PointsInRange(tLo, tHi)
		if err != nil {
			t.logger.Warn("archivetier: corrupt block skipped", zap.String("key", e.Path), zap.Error(err))
			ok = false
			continue
		}
		out = append(out, pts...)
	}
	return out, ok, nil
}

// ListSeries enumerates archived series by scanning for manifest objects.
func (t *Tier) ListSeries(ctx context.Context) ([]string, error) {
	prefix := t.prefix
	keys, err := t.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("archivetier: listing store: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		rel := k
		if t.prefix != "" {
			rel = relativeTo(k, t.prefix)
		}
		series, name := path.Split(rel)
		series = path.Clean(series)
		if name != "manifest.json" || series == "." || series == "" {
			continue
		}
		if !seen[series] {
			seen[series] = true
			out = append(out, series)
		}
	}
	sort.Strings(out)
	return out, nil
}

func relativeTo(key, prefix string) string {
	trimmed := key
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		trimmed = key[len(prefix):]
	}
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	return trimmed
}

// Manifest returns a snapshot copy of series' manifest, for the query
// planner's pruning step and archive tier stats.
func (t *Tier) Manifest(ctx context.Context, series string) (*manifest.Manifest, error) {
	ss := t.getOrCreate(series)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := t.loadLocked(ctx, series, ss); err != nil {
		return nil, err
	}
	cp := *ss.manifest
	cp.Blocks = append([]manifest.Entry(nil), ss.manifest.Blocks...)
	return &cp, nil
}

// Close releases the underlying store.
func (t *Tier) Close() error {
	return t.store.Close()
}
