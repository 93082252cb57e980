package disktier

import (
	"fmt"
	"os"
	"sort"

	"github.com/bobrenjc93/count/internal/block"
	"github.com/bobrenjc93/count/internal/manifest"
	"github.com/bobrenjc93/count/internal/metrics"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// mergeOverlapping implements the recovery-time SHOULD from the design
// notes: two manifest entries on the same tier with overlapping
// [start_ts, end_ts] ranges (left by a partial failure between writing a
// new block and committing the manifest that supersedes an old one) are
// merged into a single block covering their union of points. referenced
// is updated in place so the orphan sweep that follows does not try to
// quarantine files this function already removed.
func (t *Tier) mergeOverlapping(series string, m *manifest.Manifest, referenced map[string]bool) error {
	m.Sort()
	for i := 0; i+1 < len(m.Blocks); {
		a, b := m.Blocks[i], m.Blocks[i+1]
		if a.EndTS < b.StartTS {
			i++
			continue
		}

		merged, err := t.mergeTwoBlocks(series, a, b)
		if err != nil {
			return fmt.Errorf("merging blocks %s and %s: %w", a.Path, b.Path, err)
		}

		referenced[a.Path] = true
		referenced[b.Path] = true
		referenced[merged.Path] = true
		metrics.RecoveryBlocksMerged.WithLabelValues(series).Inc()

		next := make([]manifest.Entry, 0, len(m.Blocks)-1)
		next = append(next, m.Blocks[:i]...)
		next = append(next, merged)
		next = append(next, m.Blocks[i+2:]...)
		m.Blocks = next
		// Re-examine from the same index: the merged entry might still
		// overlap its new neighbor.
	}
	return nil
}

func (t *Tier) mergeTwoBlocks(series string, a, b manifest.Entry) (manifest.Entry, error) {
	aPts, err := t.decodeBlockFile(series, a.Path)
	if err != nil {
		return manifest.Entry{}, err
	}
	bPts, err := t.decodeBlockFile(series, b.Path)
	if err != nil {
		return manifest.Entry{}, err
	}

	union := dedupeSortedUnion(aPts, bPts)
	blk, err := block.Encode(union)
	if err != nil {
		return manifest.Entry{}, err
	}

	filename := t.uniqueBlockFilename(series, blk.StartTS, blk.EndTS)
	path := t.blockPath(series, filename)
	if err := writeFileFsync(path, blk.Raw); err != nil {
		return manifest.Entry{}, err
	}

	if err := os.Remove(t.blockPath(series, a.Path)); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("disktier: failed removing superseded block", zap.String("path", a.Path), zap.Error(err))
	}
	if err := os.Remove(t.blockPath(series, b.Path)); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("disktier: failed removing superseded block", zap.String("path", b.Path), zap.Error(err))
	}

	return manifest.Entry{
		Path:       filename,
		StartTS:    blk.StartTS,
		EndTS:      blk.EndTS,
		PointCount: int64(blk.PointCount),
	}, nil
}

func (t *Tier) decodeBlockFile(series, filename string) ([]types.Point, error) {
	raw, err := os.ReadFile(t.blockPath(series, filename))
	if err != nil {
		return nil, err
	}
	blk, err := block.Decode(raw)
	if err != nil {
		return nil, err
	}
	return blk.Points()
}

// dedupeSortedUnion merges two timestamp-sorted point slices, sorts the
// result, and collapses adjacent (timestamp, value) duplicates.
func dedupeSortedUnion(a, b []types.Point) []types.Point {
	all := make([]types.Point, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	stableSortPoints(all)

	out := all[:0:0]
	for i, p := range all {
		if i > 0 && p.Timestamp == all[i-1].Timestamp && p.Value == all[i-1].Value {
			continue
		}
		out = append(out, p)
	}
	return out
}

func stableSortPoints(pts []types.Point) {
	sort.SliceStable(pts, func(i, j int) bool {
		return pts[i].Timestamp < pts[j].Timestamp
	})
}
