package config

import (
	"strings"
	"time"

	"github.com/marmos91/agentfs/internal/bytesize"
)

// Nobody is the uid and gid given to processes that were never registered.
const Nobody uint32 = 65534

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", nil) are replaced with defaults; explicit values are
// preserved. Booleans cannot be told apart from "unset" and keep whatever
// was decoded.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyShutdownTimeoutDefaults(cfg)
	applyCoreDefaults(&cfg.Core)
	applyStorageDefaults(&cfg.Storage)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyCoreDefaults(cfg *CoreConfig) {
	if cfg.CaseSensitivity == "" {
		cfg.CaseSensitivity = "sensitive"
	}
	cfg.CaseSensitivity = strings.ToLower(cfg.CaseSensitivity)

	// uid 0 is a real identity, so only an all-zero block means "unset"
	if cfg.DefaultCredentials.UID == 0 && cfg.DefaultCredentials.GID == 0 && len(cfg.DefaultCredentials.Groups) == 0 {
		cfg.DefaultCredentials.UID = Nobody
		cfg.DefaultCredentials.GID = Nobody
	}

	if cfg.Root.Mode == "" {
		cfg.Root.Mode = "0755"
	}

	if cfg.Cache.AttrTTL == 0 {
		cfg.Cache.AttrTTL = time.Second
	}
	if cfg.Cache.EntryTTL == 0 {
		cfg.Cache.EntryTTL = time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Badger.ChunkSize == 0 {
		cfg.Badger.ChunkSize = 64 * bytesize.KiB
	}

	if cfg.Tiered.HotSize == 0 {
		cfg.Tiered.HotSize = 256 * bytesize.MiB
	}
	if cfg.Tiered.Codec == "" {
		cfg.Tiered.Codec = "zstd"
	}
	if cfg.Tiered.Spill.Type == "" {
		cfg.Tiered.Spill.Type = "memory"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Core: CoreConfig{
			TrackEvents: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
