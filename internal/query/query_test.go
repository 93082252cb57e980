package query

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobrenjc93/count/internal/archivetier"
	"github.com/bobrenjc93/count/internal/blobstore"
	"github.com/bobrenjc93/count/internal/disktier"
	"github.com/bobrenjc93/count/internal/memory"
	"github.com/bobrenjc93/count/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPlannerInDir(t *testing.T, dataDir string) (*Planner, *memory.Buffer, *disktier.Tier, *archivetier.Tier) {
	t.Helper()
	buf := memory.New(1000, zap.NewNop())
	disk, err := disktier.Open(dataDir, true, nil, zap.NewNop())
	require.NoError(t, err)
	archive := archivetier.Open(blobstore.NewMemStore(), "archive", zap.NewNop())
	return New(buf, disk, archive, zap.NewNop()), buf, disk, archive
}

func newPlanner(t *testing.T) (*Planner, *memory.Buffer, *disktier.Tier, *archivetier.Tier) {
	t.Helper()
	return newPlannerInDir(t, t.TempDir())
}

func pt(ts int64, v float64) types.Point { return types.Point{Timestamp: ts, Value: v} }

func TestRangeUnionsAllThreeTiers(t *testing.T) {
	planner, buf, disk, archive := newPlanner(t)
	ctx := context.Background()

	buf.Insert("cpu", pt(3000, 3))
	_, err := disk.WriteBlock(ctx, "cpu", []types.Point{pt(2000, 2)})
	require.NoError(t, err)
	_, err = archive.PutBlock(ctx, "cpu", []types.Point{pt(1000, 1)})
	require.NoError(t, err)

	res, err := planner.Range(ctx, "cpu", 0, 5000)
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.Equal(t, []types.Point{pt(1000, 1), pt(2000, 2), pt(3000, 3)}, res.Points)
}

func TestRangeDedupesOverlappingPointAcrossTiers(t *testing.T) {
	planner, _, disk, archive := newPlanner(t)
	ctx := context.Background()

	// Same point present on both disk and archive, as happens mid-archive-cycle.
	_, err := disk.WriteBlock(ctx, "cpu", []types.Point{pt(2000, 2)})
	require.NoError(t, err)
	_, err = archive.PutBlock(ctx, "cpu", []types.Point{pt(2000, 2)})
	require.NoError(t, err)

	res, err := planner.Range(ctx, "cpu", 0, 5000)
	require.NoError(t, err)
	require.Equal(t, []types.Point{pt(2000, 2)}, res.Points)
}

func TestRangeMarksPartialAndSkipsDiskOnCorruptBlock(t *testing.T) {
	dataDir := t.TempDir()
	planner, _, disk, _ := newPlannerInDir(t, dataDir)
	ctx := context.Background()

	badEntry, err := disk.WriteBlock(ctx, "cpu", []types.Point{pt(1000, 1), pt(1500, 2)})
	require.NoError(t, err)
	_, err = disk.WriteBlock(ctx, "cpu", []types.Point{pt(5000, 5)})
	require.NoError(t, err)

	badPath := filepath.Join(dataDir, "cpu", badEntry.Path)
	require.NoError(t, os.WriteFile(badPath, []byte("not a real block"), 0o644))

	res, err := planner.Range(ctx, "cpu", 0, 10000)
	require.NoError(t, err)
	require.True(t, res.Partial)
	require.Contains(t, res.SkippedTiers, "disk")
	require.Equal(t, []types.Point{pt(5000, 5)}, res.Points)
}

func TestRangeRejectsInvertedRange(t *testing.T) {
	planner, _, _, _ := newPlanner(t)
	_, err := planner.Range(context.Background(), "cpu", 100, 0)
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRangeFiltersToRequestedWindow(t *testing.T) {
	planner, buf, _, _ := newPlanner(t)
	buf.Insert("cpu", pt(100, 1))
	buf.Insert("cpu", pt(500, 5))
	buf.Insert("cpu", pt(900, 9))

	res, err := planner.Range(context.Background(), "cpu", 200, 800)
	require.NoError(t, err)
	require.Equal(t, []types.Point{pt(500, 5)}, res.Points)
}

func TestAggregateSumEmptyIsZero(t *testing.T) {
	planner, _, _, _ := newPlanner(t)
	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggSum)
	require.NoError(t, err)
	require.Equal(t, 0.0, v)
}

func TestAggregateMeanEmptyIsNaN(t *testing.T) {
	planner, _, _, _ := newPlanner(t)
	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMean)
	require.NoError(t, err)
	require.True(t, math.IsNaN(v))
}

func TestAggregateMinMaxEmptyIsNaN(t *testing.T) {
	planner, _, _, _ := newPlanner(t)
	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMin)
	require.NoError(t, err)
	require.True(t, math.IsNaN(v))

	v, _, err = planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMax)
	require.NoError(t, err)
	require.True(t, math.IsNaN(v))
}

func TestAggregateCountEmptyIsZero(t *testing.T) {
	planner, _, _, _ := newPlanner(t)
	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggCount)
	require.NoError(t, err)
	require.Equal(t, 0.0, v)
}

func TestAggregateSumPropagatesNaN(t *testing.T) {
	planner, buf, _, _ := newPlanner(t)
	buf.Insert("cpu", pt(100, 1))
	buf.Insert("cpu", pt(200, math.NaN()))

	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggSum)
	require.NoError(t, err)
	require.True(t, math.IsNaN(v))
}

func TestAggregateMinMaxSkipNaNUnlessAllNaN(t *testing.T) {
	planner, buf, _, _ := newPlanner(t)
	buf.Insert("cpu", pt(100, 5))
	buf.Insert("cpu", pt(200, math.NaN()))
	buf.Insert("cpu", pt(300, 1))

	min, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMin)
	require.NoError(t, err)
	require.Equal(t, 1.0, min)

	max, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMax)
	require.NoError(t, err)
	require.Equal(t, 5.0, max)
}

func TestAggregateMinAllNaNIsNaN(t *testing.T) {
	planner, buf, _, _ := newPlanner(t)
	buf.Insert("cpu", pt(100, math.NaN()))
	buf.Insert("cpu", pt(200, math.NaN()))

	v, _, err := planner.Aggregate(context.Background(), "cpu", 0, 1000, AggMin)
	require.NoError(t, err)
	require.True(t, math.IsNaN(v))
}

func TestSeriesListUnionsAllTiers(t *testing.T) {
	planner, buf, disk, archive := newPlanner(t)
	ctx := context.Background()

	buf.Insert("a", pt(100, 1))
	_, err := disk.WriteBlock(ctx, "b", []types.Point{pt(100, 1)})
	require.NoError(t, err)
	_, err = archive.PutBlock(ctx, "c", []types.Point{pt(100, 1)})
	require.NoError(t, err)

	series, err := planner.SeriesList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, series)
}
