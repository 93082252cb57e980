// Package query implements the tiered query planner: it unions points
// from the memory buffer, the disk tier, and the archive tier, merges and
// deduplicates them, and optionally folds the result into an aggregate.
// Every tier is read and unioned rather than stopping at the first tier
// that has data, since a point can legitimately live in more than one
// tier at once during an in-flight archive cycle.
package query

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/bobrenjc93/count/internal/archivetier"
	"github.com/bobrenjc93/count/internal/disktier"
	"github.com/bobrenjc93/count/internal/memory"
	"github.com/bobrenjc93/count/internal/metrics"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// AggOp identifies one of the five supported aggregate folds.
type AggOp int

const (
	AggSum AggOp = iota
	AggMean
	AggMin
	AggMax
	AggCount
)

// Result is the outcome of a Range query: the merged points plus the
// failure model's partial-data flag and which tiers, if any, were skipped.
type Result struct {
	Points       []types.Point
	Partial      bool
	SkippedTiers []string
}

// Planner answers range and aggregate queries against the three storage
// tiers. Archive may be nil when archival is disabled.
type Planner struct {
	buffer  *memory.Buffer
	disk    *disktier.Tier
	archive *archivetier.Tier
	logger  *zap.Logger
}

// New constructs a Planner over the given tiers.
func New(buffer *memory.Buffer, disk *disktier.Tier, archive *archivetier.Tier, logger *zap.Logger) *Planner {
	return &Planner{buffer: buffer, disk: disk, archive: archive, logger: logger}
}

// Range returns every point of series within [tLo, tHi], merged across
// tiers, ascending by timestamp, with adjacent (timestamp, value)
// duplicates collapsed.
func (p *Planner) Range(ctx context.Context, series string, tLo, tHi int64) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.QueryRequests.WithLabelValues("range").Inc()
		metrics.QueryLatency.WithLabelValues("range").Observe(time.Since(start).Seconds())
	}()

	if err := types.ValidateRange(tLo, tHi); err != nil {
		return Result{}, err
	}

	var merged []types.Point
	var skipped []string

	merged = append(merged, p.buffer.Range(series, tLo, tHi)...)

	diskPts, diskOK, err := p.disk.ReadRange(ctx, series, tLo, tHi)
	if err != nil {
		return Result{}, err
	}
	merged = append(merged, diskPts...)
	if !diskOK {
		skipped = append(skipped, "disk")
	}

	if p.archive != nil {
		archPts, archOK, err := p.archive.ReadRange(ctx, series, tLo, tHi)
		if err != nil {
			p.logger.Warn("query: archive tier read failed", zap.String("series", series), zap.Error(err))
			skipped = append(skipped, "archive")
		} else {
			merged = append(merged, archPts...)
			if !archOK {
				skipped = append(skipped, "archive")
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	out := merged[:0:0]
	for i, pt := range merged {
		if pt.Timestamp < tLo || pt.Timestamp > tHi {
			continue
		}
		if i > 0 && len(out) > 0 {
			last := out[len(out)-1]
			if pt.Timestamp == last.Timestamp && pt.Value == last.Value {
				continue
			}
		}
		out = append(out, pt)
	}

	for _, tier := range skipped {
		metrics.QueryPartial.WithLabelValues(series, tier).Inc()
	}
	return Result{Points: out, Partial: len(skipped) > 0, SkippedTiers: skipped}, nil
}

// Aggregate performs Range then folds the result per op's rule: sum/mean
// include NaN inputs (IEEE-754 propagation); min/max skip NaN inputs
// unless every input is NaN, in which case the result is NaN.
func (p *Planner) Aggregate(ctx context.Context, series string, tLo, tHi int64, op AggOp) (float64, Result, error) {
	metrics.QueryRequests.WithLabelValues("aggregate").Inc()
	res, err := p.Range(ctx, series, tLo, tHi)
	if err != nil {
		return 0, Result{}, err
	}

	switch op {
	case AggCount:
		return float64(len(res.Points)), res, nil
	case AggSum:
		return fold(res.Points, 0, func(acc, v float64) float64 { return acc + v }), res, nil
	case AggMean:
		if len(res.Points) == 0 {
			return math.NaN(), res, nil
		}
		sum := fold(res.Points, 0, func(acc, v float64) float64 { return acc + v })
		return sum / float64(len(res.Points)), res, nil
	case AggMin:
		return extremum(res.Points, func(a, b float64) bool { return a < b }), res, nil
	case AggMax:
		return extremum(res.Points, func(a, b float64) bool { return a > b }), res, nil
	default:
		return 0, res, types.ErrInvalidInput
	}
}

func fold(points []types.Point, init float64, f func(acc, v float64) float64) float64 {
	acc := init
	for _, p := range points {
		acc = f(acc, p.Value)
	}
	return acc
}

// extremum finds min (better(a,b) = a<b) or max (better(a,b) = a>b),
// skipping NaN values unless every value is NaN.
func extremum(points []types.Point, better func(a, b float64) bool) float64 {
	best := math.NaN()
	seenNonNaN := false
	for _, p := range points {
		if math.IsNaN(p.Value) {
			continue
		}
		if !seenNonNaN || better(p.Value, best) {
			best = p.Value
			seenNonNaN = true
		}
	}
	return best
}

// SeriesList returns the union of series keys known to any tier.
func (p *Planner) SeriesList(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, s := range p.buffer.SeriesKeys() {
		seen[s] = true
	}

	diskSeries, err := p.disk.ListSeries()
	if err != nil {
		return nil, err
	}
	for _, s := range diskSeries {
		seen[s] = true
	}

	if p.archive != nil {
		archSeries, err := p.archive.ListSeries(ctx)
		if err != nil {
			p.logger.Warn("query: listing archive series failed", zap.Error(err))
		} else {
			for _, s := range archSeries {
				seen[s] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
