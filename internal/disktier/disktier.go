// Package disktier implements the local-filesystem storage tier: one
// directory per series holding compressed blocks plus a JSON manifest,
// with atomic-rename commits and startup recovery. The manifest remains
// authoritative; an optional metaindex.Index accelerates range lookups
// for series with many blocks without becoming a second source of truth.
package disktier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bobrenjc93/count/internal/block"
	"github.com/bobrenjc93/count/internal/manifest"
	"github.com/bobrenjc93/count/internal/metaindex"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// seriesState caches a series' manifest in memory so reads can take a
// snapshot under a brief reader lock instead of re-parsing the file on
// every query; writes hold the writer lock for the full write-block-then-
// commit-manifest sequence, serializing block writes against archival
// deletions for that series.
type seriesState struct {
	mu       sync.RWMutex
	manifest *manifest.Manifest
}

// Tier stores compressed blocks on the local filesystem.
type Tier struct {
	dataDir           string
	quarantineOrphans bool
	index             *metaindex.Index
	logger            *zap.Logger

	mapMu  sync.RWMutex
	series map[string]*seriesState
}

// Open constructs a Tier rooted at dataDir. index is optional: when nil,
// range lookups fall back to scanning the in-memory manifest directly,
// which is exact but O(blocks). It does not itself run recovery; callers
// run Recover once at startup.
func Open(dataDir string, quarantineOrphans bool, index *metaindex.Index, logger *zap.Logger) (*Tier, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("disktier: creating data dir %s: %w", dataDir, err)
	}
	return &Tier{
		dataDir:           dataDir,
		quarantineOrphans: quarantineOrphans,
		index:             index,
		logger:            logger,
		series:            make(map[string]*seriesState),
	}, nil
}

func (t *Tier) seriesDir(series string) string {
	return filepath.Join(t.dataDir, series)
}

func (t *Tier) manifestPath(series string) string {
	return filepath.Join(t.seriesDir(series), "manifest")
}

func (t *Tier) blockPath(series, filename string) string {
	return filepath.Join(t.seriesDir(series), filename)
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
	if m, err := manifest.ReadFromFile(t.manifestPath(series)); err == nil {
		ss.manifest = m
	}
	t.series[series] = ss
	return ss
}

// WriteBlock encodes points into one block, writes it to a uniquely named
// file, fsyncs it, then atomically commits the updated manifest. The
// manifest rename is the commit point: a crash before it leaves an orphan
// block file, which Recover cleans on next startup.
func (t *Tier) WriteBlock(_ context.Context, series string, points []types.Point) (manifest.Entry, error) {
	if len(points) == 0 {
		return manifest.Entry{}, fmt.Errorf("disktier: cannot write an empty block")
	}

	blk, err := block.Encode(points)
	if err != nil {
		return manifest.Entry{}, fmt.Errorf("disktier: encoding block: %w", err)
	}

	ss := t.getOrCreate(series)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	filename := t.uniqueBlockFilename(series, blk.StartTS, blk.EndTS)
	path := t.blockPath(series, filename)
	if err := os.MkdirAll(t.seriesDir(series), 0o755); err != nil {
		return manifest.Entry{}, fmt.Errorf("disktier: creating series dir: %w", err)
	}
	if err := writeFileFsync(path, blk.Raw); err != nil {
		return manifest.Entry{}, fmt.Errorf("disktier: writing block file %s: %w", path, err)
	}

	entry := manifest.Entry{
		Path:       filename,
		StartTS:    blk.StartTS,
		EndTS:      blk.EndTS,
		PointCount: int64(blk.PointCount),
	}
	ss.manifest.Add(entry)
	if err := manifest.WriteAtomic(t.manifestPath(series), ss.manifest); err != nil {
		os.Remove(path)
		return manifest.Entry{}, fmt.Errorf("disktier: committing manifest: %w", err)
	}
	if t.index != nil {
		if err := t.index.Put(series, entry); err != nil {
			t.logger.Warn("disktier: failed to update time index", zap.String("series", series), zap.Error(err))
		}
	}

	t.logger.Debug("block written to disk",
		zap.String("series", series),
		zap.String("path", path),
		zap.Int64("point_count", entry.PointCount),
	)
	return entry, nil
}

// uniqueBlockFilename names a block by its time range, appending a
// monotonic disambiguator on collision (two flushes producing blocks with
// identical start/end timestamps, e.g. single-timestamp series).
func (t *Tier) uniqueBlockFilename(series string, startTS, endTS int64) string {
	base := fmt.Sprintf("block_%d_%d", startTS, endTS)
	path := t.blockPath(series, base)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, err := os.Stat(t.blockPath(series, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ReadRange decodes and returns every point of series within [tLo, tHi],
// skipping blocks whose range does not intersect it before decoding.
func (t *Tier) ReadRange(_ context.Context, series string, tLo, tHi int64) ([]types.Point, bool, error) {
	entries, err := t.intersecting(series, tLo, tHi)
	if err != nil {
		return nil, false, err
	}

	var out []types.Point
	ok := true
	for _, e := range entries {
		raw, err := os.ReadFile(t.blockPath(series, e.Path))
		if err != nil {
			t.logger.Warn("disktier: block file unreadable", zap.String("path", e.Path), zap.Error(err))
			ok = false
			continue
		}
		blk, err := block.Decode(raw)
		if err != nil {
			t.logger.Warn("disktier: corrupt block skipped", zap.String("path", e.Path), zap.Error(err))
			ok = false
			continue
		}
		pts, err := blk.PointsInRange(tLo, tHi)
		if err != nil {
			t.logger.Warn("disktier: corrupt block skipped", zap.String("path", e.Path), zap.Error(err))
			ok = false
			continue
		}
		out = append(out, pts...)
	}
	return out, ok, nil
}

// intersecting returns series' blocks overlapping [tLo, tHi]. When a time
// index is configured it answers via the index's cursor scan; on any
// index error it falls back to the exact in-memory manifest scan, since
// the index is a derived accelerant and never the final word.
func (t *Tier) intersecting(series string, tLo, tHi int64) ([]manifest.Entry, error) {
	if t.index != nil {
		entries, err := t.index.Intersecting(series, tLo, tHi)
		if err == nil {
			return entries, nil
		}
		t.logger.Warn("disktier: time index lookup failed, falling back to manifest scan",
			zap.String("series", series), zap.Error(err))
	}
	ss := t.getOrCreate(series)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.manifest.Intersecting(tLo, tHi), nil
}

// OlderThan returns the manifest entries for series whose end_ts < cutoff,
// without removing them; callers delete via DeleteBlocks once the archive
// copy is durably acknowledged.
func (t *Tier) OlderThan(series string, cutoff int64) []manifest.Entry {
	ss := t.getOrCreate(series)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.manifest.OlderThan(cutoff)
}

// DeleteBlocks atomically removes the named block files and commits the
// updated manifest, serialized against concurrent writes for this series.
func (t *Tier) DeleteBlocks(series string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	ss := t.getOrCreate(series)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	toRemove := make(map[string]bool, len(paths))
	for _, p := range paths {
		toRemove[p] = true
	}
	ss.manifest.Remove(toRemove)
	if err := manifest.WriteAtomic(t.manifestPath(series), ss.manifest); err != nil {
		return fmt.Errorf("disktier: committing manifest after delete: %w", err)
	}
	for _, p := range paths {
		if err := os.Remove(t.blockPath(series, p)); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("disktier: failed to remove block file", zap.String("path", p), zap.Error(err))
		}
		if t.index != nil {
			if err := t.index.Remove(series, p); err != nil {
				t.logger.Warn("disktier: failed to remove time index entry", zap.String("path", p), zap.Error(err))
			}
		}
	}
	return nil
}

// ListSeries enumerates the data directory's series subdirectories.
func (t *Tier) ListSeries() ([]string, error) {
	entries, err := os.ReadDir(t.dataDir)
	if err != nil {
		return nil, fmt.Errorf("disktier: listing data dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Manifest returns a snapshot copy of series' manifest, for the disk-tier
// stats and the query planner's pruning step.
func (t *Tier) Manifest(series string) *manifest.Manifest {
	ss := t.getOrCreate(series)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	cp := *ss.manifest
	cp.Blocks = append([]manifest.Entry(nil), ss.manifest.Blocks...)
	return &cp
}

func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// isBlockFilename identifies files that look like block files, as
// opposed to the manifest or quarantine directory, during recovery scans.
func isBlockFilename(name string) bool {
	return strings.HasPrefix(name, "block_")
}
