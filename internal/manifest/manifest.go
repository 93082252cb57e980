// Package manifest defines the per-series block index shared by DiskTier
// and ArchiveTier, and the atomic-rename write pattern both tiers use to
// commit it: a JSON document listing every block's path and time range,
// replaced wholesale rather than updated in place.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry describes one block owned by a tier's manifest.
type Entry struct {
	Path       string `json:"path"`
	StartTS    int64  `json:"start_ts"`
	EndTS      int64  `json:"end_ts"`
	PointCount int64  `json:"point_count"`
}

// Manifest is the per-series block index, serialized as pretty JSON.
type Manifest struct {
	Series string  `json:"series"`
	Blocks []Entry `json:"blocks"`
}

// New returns an empty manifest for series.
func New(series string) *Manifest {
	return &Manifest{Series: series, Blocks: []Entry{}}
}

// Sort orders the manifest's blocks by StartTS ascending, the tier-local
// invariant the spec requires.
func (m *Manifest) Sort() {
	sort.Slice(m.Blocks, func(i, j int) bool {
		return m.Blocks[i].StartTS < m.Blocks[j].StartTS
	})
}

// Add appends a block entry and re-sorts.
func (m *Manifest) Add(e Entry) {
	m.Blocks = append(m.Blocks, e)
	m.Sort()
}

// Remove drops every entry whose Path is in paths.
func (m *Manifest) Remove(paths map[string]bool) {
	kept := m.Blocks[:0]
	for _, e := range m.Blocks {
		if !paths[e.Path] {
			kept = append(kept, e)
		}
	}
	m.Blocks = kept
}

// Intersecting returns entries whose [StartTS, EndTS] overlaps [tLo, tHi].
func (m *Manifest) Intersecting(tLo, tHi int64) []Entry {
	var out []Entry
	for _, e := range m.Blocks {
		if e.StartTS <= tHi && e.EndTS >= tLo {
			out = append(out, e)
		}
	}
	return out
}

// OlderThan returns entries whose EndTS < cutoff.
func (m *Manifest) OlderThan(cutoff int64) []Entry {
	var out []Entry
	for _, e := range m.Blocks {
		if e.EndTS < cutoff {
			out = append(out, e)
		}
	}
	return out
}

// Encode marshals the manifest as pretty-printed JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding: %w", err)
	}
	return data, nil
}

// Decode parses a manifest from JSON bytes.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decoding: %w", err)
	}
	if m.Blocks == nil {
		m.Blocks = []Entry{}
	}
	return &m, nil
}

// WriteAtomic serializes the manifest and commits it via write-to-temp-file
// plus rename, so a crash mid-write never leaves a partially-written
// manifest visible at path. The rename is the commit point.
func WriteAtomic(path string, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: creating dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("manifest: renaming into place: %w", err)
	}
	return nil
}

// ReadFromFile loads a manifest from path. It returns the os.ReadFile
// error for a missing file and a decoding error for an unparsable one;
// disktier treats both the same way, starting from an empty manifest.
func ReadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
