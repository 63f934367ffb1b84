package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/agentfs/internal/bytesize"
	"github.com/marmos91/agentfs/internal/logger"
)

// Config represents the AgentFS configuration.
//
// This structure captures the static configuration of a filesystem core:
//   - Logging, tracing and metrics
//   - Core behavior (case sensitivity, events, permission bypass, defaults)
//   - The storage backend holding file contents
//   - Fault injection rules (test builds)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (AGENTFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long closing the core may take
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Core configures the filesystem engine
	Core CoreConfig `mapstructure:"core" yaml:"core"`

	// Storage selects and configures the content backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Faults configures error injection into backend calls
	Faults FaultsConfig `mapstructure:"faults" yaml:"faults"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When Enabled is false, no
// metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port `agentfs selftest --serve-metrics` listens on
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CoreConfig configures the filesystem engine.
type CoreConfig struct {
	// CaseSensitivity selects name comparison
	// Valid values: sensitive, insensitive (case-preserving)
	// Default: sensitive
	CaseSensitivity string `mapstructure:"case_sensitivity" validate:"omitempty,oneof=sensitive insensitive" yaml:"case_sensitivity"`

	// TrackEvents enables change notifications
	TrackEvents bool `mapstructure:"track_events" yaml:"track_events"`

	// RootBypassPermissions lets uid 0 skip permission bit checks
	RootBypassPermissions bool `mapstructure:"root_bypass_permissions" yaml:"root_bypass_permissions"`

	// DefaultCredentials apply to processes that were never registered
	// Default: 65534/65534 (nobody/nogroup)
	DefaultCredentials CredentialsConfig `mapstructure:"default_credentials" yaml:"default_credentials"`

	// Root is the owner and mode of "/"
	Root RootConfig `mapstructure:"root" yaml:"root"`

	// Cache carries metadata cache lifetimes handed to adapters
	Cache CacheTTLConfig `mapstructure:"cache" yaml:"cache"`
}

// CredentialsConfig is a uid, primary gid and supplementary groups.
type CredentialsConfig struct {
	UID    uint32   `mapstructure:"uid" yaml:"uid"`
	GID    uint32   `mapstructure:"gid" yaml:"gid"`
	Groups []uint32 `mapstructure:"groups" yaml:"groups,omitempty"`
}

// RootConfig is the ownership and permission mode of the root directory.
type RootConfig struct {
	UID uint32 `mapstructure:"uid" yaml:"uid"`
	GID uint32 `mapstructure:"gid" yaml:"gid"`

	// Mode is an octal permission string such as "0755" or "1777"
	// Default: "0755"
	Mode string `mapstructure:"mode" validate:"omitempty,filemode" yaml:"mode"`
}

// CacheTTLConfig carries attribute, entry and negative lookup lifetimes.
type CacheTTLConfig struct {
	AttrTTL     time.Duration `mapstructure:"attr_ttl" validate:"gte=0" yaml:"attr_ttl"`
	EntryTTL    time.Duration `mapstructure:"entry_ttl" validate:"gte=0" yaml:"entry_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl" validate:"gte=0" yaml:"negative_ttl"`
}

// StorageConfig selects the content backend.
type StorageConfig struct {
	// Type is the backend kind
	// Valid values: memory, hostfs, badger, tiered
	// Default: memory
	Type string `mapstructure:"type" validate:"required,oneof=memory hostfs badger tiered" yaml:"type"`

	Memory MemoryStorageConfig `mapstructure:"memory" yaml:"memory,omitempty"`
	HostFS HostFSStorageConfig `mapstructure:"hostfs" yaml:"hostfs,omitempty"`
	Badger BadgerStorageConfig `mapstructure:"badger" yaml:"badger,omitempty"`
	Tiered TieredStorageConfig `mapstructure:"tiered" yaml:"tiered,omitempty"`
}

// MemoryStorageConfig configures the in-memory backend.
type MemoryStorageConfig struct {
	// MaxSize caps total content bytes; 0 means unlimited
	// Supports human-readable formats: "1GB", "512Mi"
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size,omitempty"`
}

// HostFSStorageConfig configures the host directory backend.
type HostFSStorageConfig struct {
	// Path is the directory holding one file per stream
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Reflink clones streams with FICLONE when the host filesystem allows it
	Reflink bool `mapstructure:"reflink" yaml:"reflink"`
}

// BadgerStorageConfig configures the BadgerDB backend.
type BadgerStorageConfig struct {
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`

	// ChunkSize is the fixed chunk size of new streams
	// Default: 64Ki
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// TieredStorageConfig configures the memory hot tier with a spill store.
type TieredStorageConfig struct {
	// HotSize is the resident byte budget
	// Default: 256Mi
	HotSize bytesize.ByteSize `mapstructure:"hot_size" yaml:"hot_size,omitempty"`

	// Codec compresses spilled streams
	// Valid values: zstd, lz4, none
	// Default: zstd
	Codec string `mapstructure:"codec" validate:"omitempty,oneof=zstd lz4 none" yaml:"codec,omitempty"`

	Spill BlockStoreConfig `mapstructure:"spill" yaml:"spill"`
}

// BlockStoreConfig selects where spilled streams go.
type BlockStoreConfig struct {
	// Type is the block store kind
	// Valid values: memory, fs, s3
	// Default: memory
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory fs s3" yaml:"type,omitempty"`

	FS BlockStoreFSConfig `mapstructure:"fs" yaml:"fs,omitempty"`
	S3 BlockStoreS3Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// BlockStoreFSConfig configures a directory-backed block store.
type BlockStoreFSConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// BlockStoreS3Config configures an S3-backed block store.
type BlockStoreS3Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint (Localstack, MinIO)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Prefix namespaces every key, e.g. "agentfs/"
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// FaultsConfig configures error injection.
type FaultsConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	Rules   []FaultRuleConfig `mapstructure:"rules" validate:"dive" yaml:"rules,omitempty"`
}

// FaultRuleConfig fails one backend operation kind.
type FaultRuleConfig struct {
	// Op is the backend call to fail
	// Valid values: read, write, truncate, allocate, clone, sync
	Op string `mapstructure:"op" validate:"required,oneof=read write truncate allocate clone sync" yaml:"op"`

	// Error names the returned error kind, e.g. IoError or NoSpace
	Error string `mapstructure:"error" validate:"required" yaml:"error"`

	// After lets this many calls succeed first
	After int `mapstructure:"after" validate:"gte=0" yaml:"after"`

	// Max bounds how often the rule fires; 0 means every time
	Max int `mapstructure:"max" validate:"gte=0" yaml:"max"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (AGENTFS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file yields
// the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	return decode(v)
}

// decode unmarshals, defaults and validates whatever v currently holds.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  agentfs config init\n\n"+
				"Or specify a custom config file:\n"+
				"  agentfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  agentfs config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return SaveRaw(path, data)
}

// SaveRaw writes already encoded configuration bytes to path, owner
// readable only.
func SaveRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Watch reloads configPath whenever it changes on disk and passes the
// result to onChange. A file that fails to decode or validate is reported
// through err and the previous configuration stays in effect. The
// log level of the running process follows the file automatically.
//
// Watching runs until the process exits.
func Watch(configPath string, onChange func(cfg *Config, err error)) error {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}

	v := viper.New()
	setupViper(v, configPath)
	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			logger.SetLevel(cfg.Logging.Level)
			logger.Info("Configuration reloaded", "file", ev.Name, "level", cfg.Logging.Level)
		} else {
			logger.Warn("Ignoring invalid configuration change", "file", ev.Name, logger.Err(err))
		}
		if onChange != nil {
			onChange(cfg, err)
		}
	})
	v.WatchConfig()
	return nil
}

// setupViper configures environment variables and the config file
// location. Environment variables use the AGENTFS_ prefix with
// underscores, e.g. AGENTFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("AGENTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true cannot be filled in by ApplyDefaults
	v.SetDefault("core.track_events", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reports whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the hooks for ByteSize and time.Duration.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook accepts human-readable sizes like "1Gi", "500Mi",
// "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts duration strings like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/agentfs, ~/.config/agentfs, or "."
// when no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agentfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "agentfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
