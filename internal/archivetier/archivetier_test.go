package archivetier

import (
	"context"
	"testing"

	"github.com/bobrenjc93/count/internal/blobstore"
	"github.com/bobrenjc93/count/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ptsOf(ts ...int64) []types.Point {
	out := make([]types.Point, len(ts))
	for i, v := range ts {
		out[i] = types.Point{Timestamp: v, Value: float64(v)}
	}
	return out
}

func TestPutBlockThenReadRange(t *testing.T) {
	tier := Open(blobstore.NewMemStore(), "archive", zap.NewNop())
	ctx := context.Background()

	_, err := tier.PutBlock(ctx, "cpu", ptsOf(1000, 2000, 3000))
	require.NoError(t, err)

	got, ok, err := tier.ReadRange(ctx, "cpu", 1500, 2500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ptsOf(2000), got)
}

func TestPutBlockRejectsEmptyInput(t *testing.T) {
	tier := Open(blobstore.NewMemStore(), "", zap.NewNop())
	_, err := tier.PutBlock(context.Background(), "cpu", nil)
	require.Error(t, err)
}

func TestReadRangeOnNeverArchivedSeriesIsEmptyNotError(t *testing.T) {
	tier := Open(blobstore.NewMemStore(), "archive", zap.NewNop())
	got, ok, err := tier.ReadRange(context.Background(), "never-seen", 0, 1000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got)
}

func TestListSeriesFindsManifestsUnderPrefix(t *testing.T) {
	tier := Open(blobstore.NewMemStore(), "archive", zap.NewNop())
	ctx := context.Background()

	_, err := tier.PutBlock(ctx, "cpu", ptsOf(1000))
	require.NoError(t, err)
	_, err = tier.PutBlock(ctx, "mem", ptsOf(1000))
	require.NoError(t, err)

	series, err := tier.ListSeries(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cpu", "mem"}, series)
}

func TestManifestReflectsMultiplePutBlocks(t *testing.T) {
	tier := Open(blobstore.NewMemStore(), "", zap.NewNop())
	ctx := context.Background()

	_, err := tier.PutBlock(ctx, "cpu", ptsOf(1000, 1100))
	require.NoError(t, err)
	_, err = tier.PutBlock(ctx, "cpu", ptsOf(2000, 2100))
	require.NoError(t, err)

	m, err := tier.Manifest(ctx, "cpu")
	require.NoError(t, err)
	require.Len(t, m.Blocks, 2)
}

func TestPutBlockSurvivesReopenAgainstSameStore(t *testing.T) {
	store := blobstore.NewMemStore()
	ctx := context.Background()

	first := Open(store, "archive", zap.NewNop())
	_, err := first.PutBlock(ctx, "cpu", ptsOf(1000, 2000))
	require.NoError(t, err)

	second := Open(store, "archive", zap.NewNop())
	got, ok, err := second.ReadRange(ctx, "cpu", 0, 10000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ptsOf(1000, 2000), got)
}
