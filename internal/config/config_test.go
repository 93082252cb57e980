package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  data_dir: "/tmp/count/data"
  memory_buffer_size: 5000
  flush_interval_seconds: "30s"
  max_block_points: 1000
archive:
  enabled: true
  backend: local
  local_dir: "/tmp/count/archive"
metadata:
  index_path: "/tmp/count/index.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/count/data", cfg.Engine.DataDir)
	require.Equal(t, 5000, cfg.Engine.MemoryBufferSize)
	require.Equal(t, 30*time.Second, cfg.Engine.FlushInterval.Duration())
	require.True(t, cfg.Archive.Enabled)
	require.Equal(t, "/tmp/count/archive", cfg.Archive.LocalDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.DataDir = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveBufferSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MemoryBufferSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveFlushInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.FlushInterval = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxBlockPoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxBlockPoints = 0
	require.Error(t, cfg.Validate())
}

func TestValidateArchiveEnabledRequiresLocalDirForLocalBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Backend = "local"
	cfg.Archive.LocalDir = ""
	require.Error(t, cfg.Validate())
}

func TestValidateArchiveEnabledRequiresBucketForS3Backend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Backend = "s3"
	cfg.Archive.Bucket = ""
	require.Error(t, cfg.Validate())
}

func TestValidateArchiveRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Backend = "ftp"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyIndexPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metadata.IndexPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDurationUnmarshalRejectsInvalidString(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  data_dir: "/tmp/count/data"
  memory_buffer_size: 1
  flush_interval_seconds: "not-a-duration"
  max_block_points: 1
metadata:
  index_path: "/tmp/count/index.db"
`)
	_, err := Load(path)
	require.Error(t, err)
}
