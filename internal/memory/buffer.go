// Package memory implements the per-series, in-process point buffer
// points live in before a flush moves them to disk. Each series has its
// own lock, so inserts and reads against unrelated series never contend.
package memory

import (
	"sort"
	"sync"

	"github.com/bobrenjc93/count/internal/metrics"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// seriesBuffer holds one series' uncompressed points, guarded by its own
// reader/writer lock so unrelated series never contend.
type seriesBuffer struct {
	mu     sync.RWMutex
	points []types.Point
	sorted bool
}

// Buffer is the concurrent SeriesKey -> ordered point list MemoryBuffer
// operation set is defined over. Different series never contend: the
// outer map is guarded only long enough to find or create a series'
// buffer, never across point operations.
type Buffer struct {
	mapMu    sync.RWMutex
	series   map[string]*seriesBuffer
	capacity int
	logger   *zap.Logger
}

// New returns an empty buffer. capacity is memory_buffer_size: the point
// count per series above which older points become eligible for early
// flush.
func New(capacity int, logger *zap.Logger) *Buffer {
	return &Buffer{
		series:   make(map[string]*seriesBuffer),
		capacity: capacity,
		logger:   logger,
	}
}

func (b *Buffer) getOrCreate(series string) *seriesBuffer {
	b.mapMu.RLock()
	sb, ok := b.series[series]
	b.mapMu.RUnlock()
	if ok {
		return sb
	}

	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	if sb, ok := b.series[series]; ok {
		return sb
	}
	sb = &seriesBuffer{sorted: true}
	b.series[series] = sb
	return sb
}

func (b *Buffer) get(series string) (*seriesBuffer, bool) {
	b.mapMu.RLock()
	defer b.mapMu.RUnlock()
	sb, ok := b.series[series]
	return sb, ok
}

// Insert appends a point to series, in bounded time and without I/O.
// Insert does not require timestamps to arrive in order: the buffer
// maintains sorted order lazily, sorting on demand before Range or Drain.
func (b *Buffer) Insert(series string, p types.Point) {
	sb := b.getOrCreate(series)
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.sorted && len(sb.points) > 0 && p.Timestamp < sb.points[len(sb.points)-1].Timestamp {
		sb.sorted = false
	}
	sb.points = append(sb.points, p)
	metrics.PointsInserted.WithLabelValues(series).Inc()
}

func (sb *seriesBuffer) ensureSortedLocked() {
	if sb.sorted {
		return
	}
	sort.SliceStable(sb.points, func(i, j int) bool {
		return sb.points[i].Timestamp < sb.points[j].Timestamp
	})
	sb.sorted = true
}

// Range returns points in series with timestamp in [tLo, tHi], ascending.
// The snapshot is taken under the series' lock: a concurrent insert is
// either fully visible or fully hidden.
func (b *Buffer) Range(series string, tLo, tHi int64) []types.Point {
	sb, ok := b.get(series)
	if !ok {
		return nil
	}
	sb.mu.Lock()
	sb.ensureSortedLocked()
	out := make([]types.Point, 0)
	lo := sort.Search(len(sb.points), func(i int) bool { return sb.points[i].Timestamp >= tLo })
	for i := lo; i < len(sb.points) && sb.points[i].Timestamp <= tHi; i++ {
		out = append(out, sb.points[i])
	}
	sb.mu.Unlock()
	return out
}

// DrainOlderThan atomically removes and returns every point in series with
// timestamp < cutoff, in ascending timestamp order.
func (b *Buffer) DrainOlderThan(series string, cutoff int64) []types.Point {
	sb, ok := b.get(series)
	if !ok {
		return nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.ensureSortedLocked()

	cut := sort.Search(len(sb.points), func(i int) bool { return sb.points[i].Timestamp >= cutoff })
	if cut == 0 {
		return nil
	}
	drained := make([]types.Point, cut)
	copy(drained, sb.points[:cut])
	sb.points = sb.points[cut:]
	return drained
}

// SeriesKeys returns a snapshot of every series currently known to the
// buffer, including series with zero points (a drain can empty a series
// without removing its entry).
func (b *Buffer) SeriesKeys() []string {
	b.mapMu.RLock()
	defer b.mapMu.RUnlock()
	keys := make([]string, 0, len(b.series))
	for k := range b.series {
		keys = append(keys, k)
	}
	return keys
}

// OverCapacity returns the series keys whose point count exceeds capacity,
// i.e. candidates for early flush beyond the normal age-based trigger.
func (b *Buffer) OverCapacity() []string {
	b.mapMu.RLock()
	defer b.mapMu.RUnlock()
	var keys []string
	for k, sb := range b.series {
		sb.mu.RLock()
		over := b.capacity > 0 && len(sb.points) > b.capacity
		sb.mu.RUnlock()
		if over {
			keys = append(keys, k)
		}
	}
	return keys
}

// DrainExcess atomically removes and returns the oldest points in series
// needed to bring its length down to capacity, regardless of timestamp age.
// It returns nil if series is unknown or already at or under capacity.
func (b *Buffer) DrainExcess(series string, capacity int) []types.Point {
	sb, ok := b.get(series)
	if !ok {
		return nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.ensureSortedLocked()

	excess := len(sb.points) - capacity
	if excess <= 0 {
		return nil
	}
	drained := make([]types.Point, excess)
	copy(drained, sb.points[:excess])
	sb.points = sb.points[excess:]
	return drained
}

// PointsTotal returns the current point count across all series, for
// telemetry.
func (b *Buffer) PointsTotal() int {
	b.mapMu.RLock()
	defer b.mapMu.RUnlock()
	total := 0
	for _, sb := range b.series {
		sb.mu.RLock()
		total += len(sb.points)
		sb.mu.RUnlock()
	}
	return total
}
