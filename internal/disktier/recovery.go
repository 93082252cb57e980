package disktier

import (
	"os"
	"path/filepath"

	"github.com/bobrenjc93/count/internal/block"
	"github.com/bobrenjc93/count/internal/manifest"
	"github.com/bobrenjc93/count/internal/metrics"
	"go.uber.org/zap"
)

// Recover walks the data directory at startup: for each series directory
// it loads the manifest, drops entries whose block file is missing, and
// quarantines (or deletes, per config) any block file the manifest does
// not reference. A manifest that is missing or fails to parse is replaced
// by an empty one; block files are not re-adopted from the directory
// scan, so every block file of that series is then handled as an orphan.
func (t *Tier) Recover() error {
	seriesDirs, err := os.ReadDir(t.dataDir)
	if err != nil {
		return err
	}

	for _, d := range seriesDirs {
		if !d.IsDir() {
			continue
		}
		series := d.Name()
		if err := t.recoverSeries(series); err != nil {
			t.logger.Warn("disktier: recovery error for series", zap.String("series", series), zap.Error(err))
		}
	}
	return nil
}

func (t *Tier) recoverSeries(series string) error {
	dir := t.seriesDir(series)
	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	blockFiles := make(map[string]bool)
	for _, f := range files {
		if !f.IsDir() && isBlockFilename(f.Name()) {
			blockFiles[f.Name()] = true
		}
	}

	m, err := manifest.ReadFromFile(t.manifestPath(series))
	if err != nil {
		// Either no manifest yet, or it failed to parse; rebuild an
		// empty one and let the orphan sweep below re-adopt nothing,
		// since block ranges cannot be trusted without decoding every
		// file. A partially-written manifest is distinguishable from
		// "no manifest" only by os.IsNotExist, but both cases are
		// handled the same way: start from empty and treat every block
		// file as an orphan (quarantined, or deleted when quarantine is off).
		m = manifest.New(series)
	}

	referenced := make(map[string]bool, len(m.Blocks))
	kept := m.Blocks[:0]
	for _, e := range m.Blocks {
		if !blockFiles[e.Path] {
			t.logger.Warn("disktier: dropping manifest entry with missing block file",
				zap.String("series", series), zap.String("path", e.Path))
			metrics.RecoveryBlocksQuarantined.WithLabelValues(series, "missing_file").Inc()
			continue
		}
		if err := t.validateBlockFile(series, e.Path); err != nil {
			t.logger.Warn("disktier: quarantining corrupt block referenced by manifest",
				zap.String("series", series), zap.String("path", e.Path), zap.Error(err))
			if qerr := t.quarantineOrDelete(series, e.Path); qerr != nil {
				t.logger.Warn("disktier: failed to quarantine corrupt block", zap.Error(qerr))
			}
			metrics.RecoveryBlocksQuarantined.WithLabelValues(series, "corrupt").Inc()
			continue
		}
		referenced[e.Path] = true
		kept = append(kept, e)
	}
	m.Blocks = kept
	m.Sort()

	if err := t.mergeOverlapping(series, m, referenced); err != nil {
		t.logger.Warn("disktier: failed to merge overlapping blocks", zap.String("series", series), zap.Error(err))
	}

	for name := range blockFiles {
		if referenced[name] {
			continue
		}
		if err := t.quarantineOrDelete(series, name); err != nil {
			t.logger.Warn("disktier: failed to handle orphan block",
				zap.String("series", series), zap.String("path", name), zap.Error(err))
		}
		metrics.RecoveryBlocksQuarantined.WithLabelValues(series, "orphan").Inc()
	}

	if err := manifest.WriteAtomic(t.manifestPath(series), m); err != nil {
		return err
	}
	if t.index != nil {
		if err := t.index.RebuildSeries(series, m); err != nil {
			t.logger.Warn("disktier: failed to rebuild time index", zap.String("series", series), zap.Error(err))
		}
	}

	t.mapMu.Lock()
	t.series[series] = &seriesState{manifest: m}
	t.mapMu.Unlock()
	return nil
}

func (t *Tier) validateBlockFile(series, filename string) error {
	raw, err := os.ReadFile(t.blockPath(series, filename))
	if err != nil {
		return err
	}
	_, err = block.Decode(raw)
	return err
}

func (t *Tier) quarantineOrDelete(series, filename string) error {
	src := t.blockPath(series, filename)
	if !t.quarantineOrphans {
		t.logger.Info("disktier: deleting orphan block file", zap.String("series", series), zap.String("path", filename))
		return os.Remove(src)
	}

	quarantineDir := filepath.Join(t.seriesDir(series), "quarantine")
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(quarantineDir, filename)
	t.logger.Info("disktier: quarantining orphan block file", zap.String("series", series), zap.String("path", filename))
	return os.Rename(src, dst)
}
