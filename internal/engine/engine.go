// Package engine assembles the memory buffer, disk tier, archive tier,
// scheduler, and query planner into the single façade the CLI and HTTP
// layers call: insert, query, force-flush/archive, and a lifecycle that
// takes an advisory lock on its data directory and shuts down its
// background loops via an errgroup.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobrenjc93/count/internal/archivetier"
	"github.com/bobrenjc93/count/internal/blobstore"
	"github.com/bobrenjc93/count/internal/config"
	"github.com/bobrenjc93/count/internal/disktier"
	"github.com/bobrenjc93/count/internal/memory"
	"github.com/bobrenjc93/count/internal/metaindex"
	"github.com/bobrenjc93/count/internal/metrics"
	"github.com/bobrenjc93/count/internal/query"
	"github.com/bobrenjc93/count/internal/scheduler"
	"github.com/bobrenjc93/count/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the top-level façade: insert, query, and lifecycle operations
// over the three-tier storage model.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	lock    *lockfile
	index   *metaindex.Index
	buffer  *memory.Buffer
	disk    *disktier.Tier
	archive *archivetier.Tier
	store   blobstore.Store
	sched   *scheduler.Scheduler
	planner *query.Planner

	shutdownMu sync.RWMutex
	shutdown   bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Open performs the startup sequence in spec order: load configuration
// (already loaded by the caller and passed in), acquire the advisory
// lockfile, open the disk tier and run recovery, construct the BlobStore
// and archive tier from config, initialise the memory buffer, then start
// the scheduler's background loops.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	lock, err := acquireLockfile(cfg.Engine.DataDir)
	if err != nil {
		return nil, err
	}

	index, err := metaindex.Open(cfg.Metadata.IndexPath, cfg.Metadata.NoSync, logger.Named("metaindex"))
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("engine: opening time index: %w", err)
	}

	disk, err := disktier.Open(cfg.Engine.DataDir, cfg.Engine.OrphanBlockQuarantine, index, logger.Named("disktier"))
	if err != nil {
		index.Close()
		lock.release()
		return nil, fmt.Errorf("engine: opening disk tier: %w", err)
	}
	if err := disk.Recover(); err != nil {
		index.Close()
		lock.release()
		return nil, fmt.Errorf("engine: disk tier recovery: %w", err)
	}

	var store blobstore.Store
	var archive *archivetier.Tier
	if cfg.Archive.Enabled {
		store, err = newBlobStore(ctx, cfg.Archive, logger.Named("blobstore"))
		if err != nil {
			index.Close()
			lock.release()
			return nil, fmt.Errorf("engine: constructing blob store: %w", err)
		}
		archive = archivetier.Open(store, cfg.Archive.Prefix, logger.Named("archivetier"))
	}

	buffer := memory.New(cfg.Engine.MemoryBufferSize, logger.Named("memory"))

	schedCfg := scheduler.Config{
		FlushInterval:    cfg.Engine.FlushInterval.Duration(),
		FlushAge:         cfg.Engine.FlushAge.Duration(),
		ArchiveInterval:  cfg.Engine.ArchiveInterval.Duration(),
		ArchivalAge:      cfg.Engine.ArchivalAge.Duration(),
		MaxBlockPoints:   cfg.Engine.MaxBlockPoints,
		MemoryBufferSize: cfg.Engine.MemoryBufferSize,
		ArchiveEnabled:   cfg.Archive.Enabled,
	}
	sched := scheduler.New(schedCfg, buffer, disk, archive, logger.Named("scheduler"))
	planner := query.New(buffer, disk, archive, logger.Named("query"))

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return sched.RunFlushLoop(groupCtx) })
	group.Go(func() error { return sched.RunArchiveLoop(groupCtx) })

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		lock:    lock,
		index:   index,
		buffer:  buffer,
		disk:    disk,
		archive: archive,
		store:   store,
		sched:   sched,
		planner: planner,
		group:   group,
		cancel:  cancel,
	}
	logger.Info("engine started", zap.String("data_dir", cfg.Engine.DataDir), zap.Bool("archive_enabled", cfg.Archive.Enabled))
	return e, nil
}

func newBlobStore(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (blobstore.Store, error) {
	switch cfg.Backend {
	case "local":
		return blobstore.NewLocalStore(cfg.LocalDir, logger)
	case "s3":
		client, err := blobstore.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3Store(client, cfg.Bucket, cfg.Prefix, logger), nil
	default:
		return nil, fmt.Errorf("engine: unknown archive backend %q", cfg.Backend)
	}
}

// Insert validates and routes a point into the memory buffer. It never
// performs I/O and so never blocks on disk or network latency.
func (e *Engine) Insert(series string, p types.Point) error {
	if e.isShutdown() {
		return types.ErrShutdown
	}
	key, err := types.SeriesKey(series)
	if err != nil {
		metrics.InsertRejected.WithLabelValues("invalid_series").Inc()
		return err
	}
	if err := types.ValidatePoint(p); err != nil {
		metrics.InsertRejected.WithLabelValues("invalid_point").Inc()
		return err
	}
	e.buffer.Insert(key, p)
	return nil
}

// QueryRange delegates to the query planner after validating t_lo <= t_hi.
func (e *Engine) QueryRange(ctx context.Context, series string, tLo, tHi int64) (query.Result, error) {
	if e.isShutdown() {
		return query.Result{}, types.ErrShutdown
	}
	key, err := types.SeriesKey(series)
	if err != nil {
		return query.Result{}, err
	}
	return e.planner.Range(ctx, key, tLo, tHi)
}

// QueryAggregate delegates to the query planner's aggregate fold.
func (e *Engine) QueryAggregate(ctx context.Context, series string, tLo, tHi int64, op query.AggOp) (float64, query.Result, error) {
	if e.isShutdown() {
		return 0, query.Result{}, types.ErrShutdown
	}
	key, err := types.SeriesKey(series)
	if err != nil {
		return 0, query.Result{}, err
	}
	return e.planner.Aggregate(ctx, key, tLo, tHi, op)
}

// SeriesList returns the union of series keys across all tiers.
func (e *Engine) SeriesList(ctx context.Context) ([]string, error) {
	return e.planner.SeriesList(ctx)
}

// ForceFlush runs one flush cycle synchronously.
func (e *Engine) ForceFlush(ctx context.Context) {
	e.sched.ForceFlush(ctx)
}

// ForceArchive runs one archive cycle synchronously.
func (e *Engine) ForceArchive(ctx context.Context) {
	e.sched.ForceArchive(ctx)
}

// ArchiveStore returns the underlying blob store backing the archive
// tier, or nil when archiving is disabled. Callers use this to probe for
// backend-specific capabilities, such as the connectivity check an
// S3Store exposes for the health server.
func (e *Engine) ArchiveStore() blobstore.Store {
	return e.store
}

func (e *Engine) isShutdown() bool {
	e.shutdownMu.RLock()
	defer e.shutdownMu.RUnlock()
	return e.shutdown
}

// Shutdown stops the scheduler's background loops, performs a final
// synchronous flush so no points remain only in memory, releases the
// advisory lockfile, and closes the blob store. It returns once all state
// is durable.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownMu.Lock()
	if e.shutdown {
		e.shutdownMu.Unlock()
		return nil
	}
	e.shutdown = true
	e.shutdownMu.Unlock()

	e.cancel()
	if err := e.group.Wait(); err != nil && err != context.Canceled {
		e.logger.Warn("engine: scheduler loop exited with error", zap.Error(err))
	}

	e.sched.ForceFlush(ctx)

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("engine: closing blob store", zap.Error(err))
		}
	}
	if err := e.index.Close(); err != nil {
		e.logger.Warn("engine: closing time index", zap.Error(err))
	}

	e.lock.release()
	e.logger.Info("engine shut down")
	return nil
}

// lockfile is the advisory data_dir/.lock the engine holds for the
// process lifetime, rejecting a second engine instance over the same
// data directory with ErrConflict.
type lockfile struct {
	f *os.File
}

func acquireLockfile(dataDir string) (*lockfile, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("engine: data dir %s already locked: %w", dataDir, types.ErrConflict)
		}
		return nil, fmt.Errorf("engine: creating lockfile: %w", err)
	}
	return &lockfile{f: f}, nil
}

func (l *lockfile) release() {
	path := l.f.Name()
	l.f.Close()
	os.Remove(path)
}
