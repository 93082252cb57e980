package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DataDir:               "./count_data",
			MemoryBufferSize:      10000,
			FlushInterval:         Duration(300 * time.Second),
			FlushAge:              Duration(300 * time.Second),
			ArchiveInterval:       Duration(3600 * time.Second),
			ArchivalAge:           Duration(14 * 24 * time.Hour),
			MaxBlockPoints:        100000,
			OrphanBlockQuarantine: false,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Backend:  "local",
			LocalDir: "./count_data/.archive",
		},
		Metadata: MetadataConfig{
			IndexPath: "./count_data/.index.db",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
