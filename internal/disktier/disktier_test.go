package disktier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobrenjc93/count/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTier(t *testing.T) *Tier {
	t.Helper()
	tier, err := Open(t.TempDir(), true, nil, zap.NewNop())
	require.NoError(t, err)
	return tier
}

func pts(ts ...int64) []types.Point {
	out := make([]types.Point, len(ts))
	for i, v := range ts {
		out[i] = types.Point{Timestamp: v, Value: float64(v)}
	}
	return out
}

func TestWriteBlockThenReadRange(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	_, err := tier.WriteBlock(ctx, "cpu", pts(1000, 2000, 3000))
	require.NoError(t, err)

	got, ok, err := tier.ReadRange(ctx, "cpu", 1500, 2500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pts(2000), got)
}

func TestWriteBlockRejectsEmptyPoints(t *testing.T) {
	tier := newTestTier(t)
	_, err := tier.WriteBlock(context.Background(), "cpu", nil)
	require.Error(t, err)
}

func TestDeleteBlocksRemovesFromManifestAndDisk(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	entry, err := tier.WriteBlock(ctx, "cpu", pts(1000, 2000))
	require.NoError(t, err)

	require.NoError(t, tier.DeleteBlocks("cpu", []string{entry.Path}))

	m := tier.Manifest("cpu")
	require.Empty(t, m.Blocks)

	got, ok, err := tier.ReadRange(ctx, "cpu", 0, 10000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got)
}

func TestOlderThanReturnsOnlyExpiredBlocks(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()

	_, err := tier.WriteBlock(ctx, "cpu", pts(1000, 1500))
	require.NoError(t, err)
	_, err = tier.WriteBlock(ctx, "cpu", pts(5000, 5500))
	require.NoError(t, err)

	expired := tier.OlderThan("cpu", 2000)
	require.Len(t, expired, 1)
	require.Equal(t, int64(1500), expired[0].EndTS)
}

func TestListSeries(t *testing.T) {
	tier := newTestTier(t)
	ctx := context.Background()
	_, err := tier.WriteBlock(ctx, "cpu", pts(1000))
	require.NoError(t, err)
	_, err = tier.WriteBlock(ctx, "mem", pts(1000))
	require.NoError(t, err)

	series, err := tier.ListSeries()
	require.NoError(t, err)
	require.Equal(t, []string{"cpu", "mem"}, series)
}

func TestReadRangeReturnsPartialWhenABlockFileIsCorrupted(t *testing.T) {
	dataDir := t.TempDir()
	tier, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	badEntry, err := tier.WriteBlock(ctx, "cpu", pts(1000, 1500))
	require.NoError(t, err)
	goodEntry, err := tier.WriteBlock(ctx, "cpu", pts(5000, 5500))
	require.NoError(t, err)

	// Corrupt the first block's bytes in place without touching the
	// manifest, simulating bitrot or a truncated write that recovery
	// never ran against.
	badPath := filepath.Join(dataDir, "cpu", badEntry.Path)
	require.NoError(t, os.WriteFile(badPath, []byte("not a real block"), 0o644))

	got, ok, err := tier.ReadRange(ctx, "cpu", 0, 10000)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, pts(5000, 5500), got)

	m := tier.Manifest("cpu")
	require.Len(t, m.Blocks, 2)
	require.Equal(t, goodEntry.Path, m.Blocks[1].Path)
}

func TestRecoverQuarantinesOrphanBlockFile(t *testing.T) {
	dataDir := t.TempDir()
	tier, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = tier.WriteBlock(ctx, "cpu", pts(1000, 2000))
	require.NoError(t, err)

	// Drop an orphan block file the manifest doesn't reference.
	orphanPath := filepath.Join(dataDir, "cpu", "block_9000_9500")
	require.NoError(t, os.WriteFile(orphanPath, []byte("not a real block"), 0o644))

	fresh, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fresh.Recover())

	_, err = os.Stat(orphanPath)
	require.True(t, os.IsNotExist(err))
	quarantined := filepath.Join(dataDir, "cpu", "quarantine", "block_9000_9500")
	require.FileExists(t, quarantined)

	m := fresh.Manifest("cpu")
	require.Len(t, m.Blocks, 1)
}

func TestRecoverDropsManifestEntryWithMissingFile(t *testing.T) {
	dataDir := t.TempDir()
	tier, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	entry, err := tier.WriteBlock(ctx, "cpu", pts(1000, 2000))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dataDir, "cpu", entry.Path)))

	fresh, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fresh.Recover())

	m := fresh.Manifest("cpu")
	require.Empty(t, m.Blocks)
}

func TestRecoverMergesOverlappingManifestEntries(t *testing.T) {
	dataDir := t.TempDir()
	tier, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tier.WriteBlock(ctx, "cpu", pts(1000, 2000, 3000))
	require.NoError(t, err)
	_, err = tier.WriteBlock(ctx, "cpu", pts(2000, 2500, 3000))
	require.NoError(t, err)

	fresh, err := Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fresh.Recover())

	m := fresh.Manifest("cpu")
	require.Len(t, m.Blocks, 1)

	got, ok, err := fresh.ReadRange(ctx, "cpu", 0, 10000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pts(1000, 2000, 2500, 3000), got)
}
