package metaindex

import (
	"path/filepath"
	"testing"

	"github.com/bobrenjc93/count/internal/manifest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"), true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestPutThenIntersecting(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "a", StartTS: 100, EndTS: 200}))
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "b", StartTS: 300, EndTS: 400}))
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "c", StartTS: 500, EndTS: 600}))

	got, err := ix.Intersecting("cpu", 250, 550)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b", "c"}, pathsOf(got))
}

func TestIntersectingUnknownSeriesReturnsEmpty(t *testing.T) {
	ix := newTestIndex(t)
	got, err := ix.Intersecting("nonexistent", 0, 1000)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRemoveDropsEntry(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "a", StartTS: 100, EndTS: 200}))
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "b", StartTS: 300, EndTS: 400}))

	require.NoError(t, ix.Remove("cpu", "a"))

	got, err := ix.Intersecting("cpu", 0, 1000)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, pathsOf(got))
}

func TestRebuildSeriesReplacesExistingEntries(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "stale", StartTS: 1, EndTS: 2}))

	m := manifest.New("cpu")
	m.Add(manifest.Entry{Path: "fresh-a", StartTS: 100, EndTS: 200})
	m.Add(manifest.Entry{Path: "fresh-b", StartTS: 300, EndTS: 400})

	require.NoError(t, ix.RebuildSeries("cpu", m))

	got, err := ix.Intersecting("cpu", 0, 1000)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fresh-a", "fresh-b"}, pathsOf(got))
}

func TestSharedStartTSDisambiguatedByPath(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "a", StartTS: 100, EndTS: 150}))
	require.NoError(t, ix.Put("cpu", manifest.Entry{Path: "b", StartTS: 100, EndTS: 150}))

	got, err := ix.Intersecting("cpu", 100, 150)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, pathsOf(got))
}

func pathsOf(entries []manifest.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
