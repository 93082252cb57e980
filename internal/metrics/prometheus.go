package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/bobrenjc93/count/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	PointsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_points_inserted_total",
		Help: "Total points accepted into the memory buffer",
	}, []string{"series"})

	InsertRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_insert_rejected_total",
		Help: "Total inserts rejected by validation",
	}, []string{"reason"})

	// Flush metrics
	BlocksFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_blocks_flushed_total",
		Help: "Total blocks written from the memory buffer to the disk tier",
	}, []string{"series"})

	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "count_flush_duration_seconds",
		Help:    "Time to flush one series to disk",
		Buckets: prometheus.DefBuckets,
	}, []string{"series"})

	// Archive metrics
	BlocksArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_blocks_archived_total",
		Help: "Total blocks copied from the disk tier to the archive tier",
	}, []string{"series"})

	ArchiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "count_archive_duration_seconds",
		Help:    "Time to archive one series' eligible blocks",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"series"})

	ArchiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_archive_errors_total",
		Help: "Archive cycle failures",
	}, []string{"series", "error_type"})

	// Tier metrics
	TierBlockCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "count_tier_block_count",
		Help: "Number of blocks held in each tier",
	}, []string{"series", "tier"})

	TierPointCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "count_tier_point_count",
		Help: "Number of points held in each tier",
	}, []string{"series", "tier"})

	// Query metrics
	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_query_requests_total",
		Help: "Query requests by kind (range, aggregate)",
	}, []string{"kind"})

	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "count_query_latency_seconds",
		Help:    "Query request latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})

	QueryPartial = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_query_partial_total",
		Help: "Queries that returned partial data because a tier was skipped",
	}, []string{"series", "skipped_tier"})

	// Recovery metrics
	RecoveryBlocksQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_recovery_blocks_quarantined_total",
		Help: "Blocks quarantined or deleted during disk-tier startup recovery",
	}, []string{"series", "reason"})

	RecoveryBlocksMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "count_recovery_blocks_merged_total",
		Help: "Overlapping manifest entries merged during disk-tier startup recovery",
	}, []string{"series"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
