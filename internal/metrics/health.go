package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bobrenjc93/count/internal/config"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is satisfied by archive backends that can check connectivity,
// such as blobstore.S3Store. LocalStore and MemStore don't implement it,
// and readiness simply skips the archive check in that case.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker runs the liveness and readiness probes the engine exposes
// over HTTP.
type HealthChecker struct {
	dataDir       string
	archivePinger Pinger
}

// NewHealthChecker creates a health checker over the engine's data
// directory and, if archiving to a pingable backend, its archive store.
func NewHealthChecker(dataDir string, archivePinger Pinger) *HealthChecker {
	return &HealthChecker{dataDir: dataDir, archivePinger: archivePinger}
}

// Liveness checks only that the process is alive and able to respond.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks that the data directory is writable and, if configured,
// that the archive backend is reachable.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	if err := h.checkDataDir(); err != nil {
		status.OK = false
		status.Checks = append(status.Checks, Check{Name: "disk", Status: "error", Error: err.Error()})
	} else {
		status.Checks = append(status.Checks, Check{Name: "disk", Status: "ok"})
	}

	if h.archivePinger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.archivePinger.Ping(ctx); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{Name: "archive", Status: "error", Error: err.Error()})
		} else {
			status.Checks = append(status.Checks, Check{Name: "archive", Status: "ok"})
		}
	}

	return status
}

func (h *HealthChecker) checkDataDir() error {
	probe := filepath.Join(h.dataDir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	mux := http.NewServeMux()

	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		status := checker.Liveness()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		status := checker.Readiness()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

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
