// Package scheduler runs the periodic flush and archive cycles that move
// points down the memory -> disk -> archive tier chain, plus their
// synchronous force_* counterparts. The archive cycle is a genuine
// two-phase commit: a block is deleted from disk only after its archive
// copy is durably acknowledged, so a crash between the two leaves it on
// both tiers rather than on neither.
package scheduler

import (
	"context"
	"time"

	"github.com/bobrenjc93/count/internal/archivetier"
	"github.com/bobrenjc93/count/internal/disktier"
	"github.com/bobrenjc93/count/internal/memory"
	"github.com/bobrenjc93/count/internal/metrics"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
)

// Config holds the scheduler's tunables, mirroring the engine section of
// the configuration file.
type Config struct {
	FlushInterval    time.Duration
	FlushAge         time.Duration
	ArchiveInterval  time.Duration
	ArchivalAge      time.Duration
	MaxBlockPoints   int
	MemoryBufferSize int
	ArchiveEnabled   bool
}

// Scheduler owns the flush and archive background loops. Archive is nil
// when archive.enabled is false in configuration; ForceArchive and the
// archive loop become no-ops in that case.
type Scheduler struct {
	cfg     Config
	buffer  *memory.Buffer
	disk    *disktier.Tier
	archive *archivetier.Tier
	logger  *zap.Logger
}

// New constructs a Scheduler. archive may be nil if archival is disabled.
func New(cfg Config, buffer *memory.Buffer, disk *disktier.Tier, archive *archivetier.Tier, logger *zap.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, buffer: buffer, disk: disk, archive: archive, logger: logger}
}

// RunFlushLoop periodically moves points older than FlushAge (and, for
// series over capacity, the oldest points beyond memory_buffer_size) from
// the memory buffer to disk. It returns when ctx is cancelled.
func (s *Scheduler) RunFlushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ForceFlush(ctx)
		}
	}
}

// RunArchiveLoop periodically moves blocks older than ArchivalAge from
// disk to the archive tier. When archiving is disabled it starts no ticker
// and only waits for ctx to be cancelled, so callers can always start it
// unconditionally.
func (s *Scheduler) RunArchiveLoop(ctx context.Context) error {
	if !s.cfg.ArchiveEnabled || s.archive == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ForceArchive(ctx)
		}
	}
}

// ForceFlush runs one flush cycle synchronously: every series past
// FlushAge is drained on an age basis, and every series currently over
// memory_buffer_size is separately trimmed down to capacity regardless of
// age, so a burst of recent inserts can't grow a series unbounded between
// age-based flushes.
func (s *Scheduler) ForceFlush(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.FlushAge).UnixMilli()

	for _, series := range s.buffer.SeriesKeys() {
		if err := s.flushSeries(ctx, series, cutoff); err != nil {
			s.logger.Error("flush cycle error", zap.String("series", series), zap.Error(err))
		}
	}

	for _, series := range s.buffer.OverCapacity() {
		if err := s.flushExcess(ctx, series); err != nil {
			s.logger.Error("flush cycle error (capacity)", zap.String("series", series), zap.Error(err))
		}
	}
}

func (s *Scheduler) flushSeries(ctx context.Context, series string, cutoff int64) error {
	points := s.buffer.DrainOlderThan(series, cutoff)
	if len(points) == 0 {
		return nil
	}
	return s.writeFlushedChunks(ctx, series, points)
}

// flushExcess trims series down to memory_buffer_size independent of
// FlushAge, satisfying the capacity knob even when every buffered point is
// recent.
func (s *Scheduler) flushExcess(ctx context.Context, series string) error {
	points := s.buffer.DrainExcess(series, s.cfg.MemoryBufferSize)
	if len(points) == 0 {
		return nil
	}
	return s.writeFlushedChunks(ctx, series, points)
}

func (s *Scheduler) writeFlushedChunks(ctx context.Context, series string, points []types.Point) error {
	start := time.Now()
	chunks := chunkPoints(points, s.cfg.MaxBlockPoints)
	for _, chunk := range chunks {
		if _, err := s.disk.WriteBlock(ctx, series, chunk); err != nil {
			return err
		}
	}
	metrics.FlushDuration.WithLabelValues(series).Observe(time.Since(start).Seconds())
	metrics.BlocksFlushed.WithLabelValues(series).Add(float64(len(chunks)))

	s.logger.Debug("flushed series to disk",
		zap.String("series", series),
		zap.Int("point_count", len(points)),
		zap.Int("block_count", len(chunks)),
	)
	return nil
}

// chunkPoints splits a sorted point run into runs of at most maxPoints,
// the same boundary block.BuildBlocks uses, without encoding: the caller
// here wants raw point slices to hand to disktier.WriteBlock, which does
// its own encoding.
func chunkPoints(points []types.Point, maxPoints int) [][]types.Point {
	if len(points) == 0 {
		return nil
	}
	if maxPoints <= 0 {
		maxPoints = len(points)
	}
	var chunks [][]types.Point
	for start := 0; start < len(points); start += maxPoints {
		end := start + maxPoints
		if end > len(points) {
			end = len(points)
		}
		chunks = append(chunks, points[start:end])
	}
	return chunks
}

// ForceArchive runs one archive cycle synchronously across every series on
// disk: blocks older than ArchivalAge are copied to the archive tier and,
// only once that copy is durably acknowledged, deleted from disk. A crash
// between the two leaves the block present on both tiers, which is safe
// (queries dedupe overlapping points) and is cleaned up on the next cycle.
func (s *Scheduler) ForceArchive(ctx context.Context) {
	if !s.cfg.ArchiveEnabled || s.archive == nil {
		return
	}

	seriesList, err := s.disk.ListSeries()
	if err != nil {
		s.logger.Error("archive cycle: listing series", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-s.cfg.ArchivalAge).UnixMilli()
	for _, series := range seriesList {
		if err := s.archiveSeries(ctx, series, cutoff); err != nil {
			s.logger.Error("archive cycle error", zap.String("series", series), zap.Error(err))
		}
	}
}

func (s *Scheduler) archiveSeries(ctx context.Context, series string, cutoff int64) error {
	entries := s.disk.OlderThan(series, cutoff)
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	var toDelete []string
	for _, e := range entries {
		points, ok, err := s.disk.ReadRange(ctx, series, e.StartTS, e.EndTS)
		if err != nil {
			metrics.ArchiveErrors.WithLabelValues(series, "disk_read").Inc()
			return err
		}
		if !ok || len(points) == 0 {
			s.logger.Warn("archive cycle: skipping unreadable block",
				zap.String("series", series), zap.String("path", e.Path))
			continue
		}

		// Phase 1: archive-write. Only on success does phase 2 run.
		if _, err := s.archive.PutBlock(ctx, series, points); err != nil {
			metrics.ArchiveErrors.WithLabelValues(series, "archive_write").Inc()
			return err
		}
		toDelete = append(toDelete, e.Path)
	}

	if len(toDelete) == 0 {
		return nil
	}

	// Phase 2: disk-delete, only for blocks durably archived above.
	if err := s.disk.DeleteBlocks(series, toDelete); err != nil {
		metrics.ArchiveErrors.WithLabelValues(series, "disk_delete").Inc()
		return err
	}

	metrics.ArchiveDuration.WithLabelValues(series).Observe(time.Since(start).Seconds())
	metrics.BlocksArchived.WithLabelValues(series).Add(float64(len(toDelete)))
	s.logger.Debug("archived series blocks",
		zap.String("series", series),
		zap.Int("block_count", len(toDelete)),
	)
	return nil
}
