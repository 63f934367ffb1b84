package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "oneof"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "lte"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "max"},
		{"shutdown timeout", func(c *Config) { c.ShutdownTimeout = -1 }, "ShutdownTimeout"},
		{"case sensitivity", func(c *Config) { c.Core.CaseSensitivity = "sometimes" }, "CaseSensitivity"},
		{"root mode not octal", func(c *Config) { c.Core.Root.Mode = "rwxr-xr-x" }, "filemode"},
		{"root mode file type bits", func(c *Config) { c.Core.Root.Mode = "40755" }, "filemode"},
		{"negative ttl", func(c *Config) { c.Core.Cache.EntryTTL = -1 }, "EntryTTL"},
		{"storage type", func(c *Config) { c.Storage.Type = "tape" }, "Storage.Type"},
		{"codec", func(c *Config) { c.Storage.Tiered.Codec = "gzip" }, "Codec"},
		{"spill type", func(c *Config) { c.Storage.Tiered.Spill.Type = "ftp" }, "Spill.Type"},
		{"hostfs path", func(c *Config) { c.Storage.Type = "hostfs" }, "hostfs.path"},
		{"badger path", func(c *Config) { c.Storage.Type = "badger" }, "badger.path"},
		{"badger chunk", func(c *Config) {
			c.Storage.Type = "badger"
			c.Storage.Badger.InMemory = true
			c.Storage.Badger.ChunkSize = 128 * 1024 * 1024
		}, "chunk_size"},
		{"fs spill path", func(c *Config) {
			c.Storage.Type = "tiered"
			c.Storage.Tiered.Spill.Type = "fs"
		}, "spill.fs.path"},
		{"s3 bucket", func(c *Config) {
			c.Storage.Type = "tiered"
			c.Storage.Tiered.Spill.Type = "s3"
		}, "bucket"},
		{"fault op", func(c *Config) {
			c.Faults.Rules = []FaultRuleConfig{{Op: "mmap", Error: "IoError"}}
		}, "Op"},
		{"fault error kind", func(c *Config) {
			c.Faults.Rules = []FaultRuleConfig{{Op: "write", Error: "Gremlins"}}
		}, "unknown error kind"},
		{"fault negative after", func(c *Config) {
			c.Faults.Rules = []FaultRuleConfig{{Op: "write", Error: "IoError", After: -1}}
		}, "After"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_AcceptsBackendVariants(t *testing.T) {
	dir := t.TempDir()
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Storage.Type = "hostfs"; c.Storage.HostFS.Path = dir },
		func(c *Config) { c.Storage.Type = "badger"; c.Storage.Badger.InMemory = true },
		func(c *Config) { c.Storage.Type = "tiered"; c.Storage.Tiered.Codec = "none" },
		func(c *Config) {
			c.Faults = FaultsConfig{Enabled: true, Rules: []FaultRuleConfig{{Op: "sync", Error: "NoSpace", Max: 1}}}
		},
	} {
		cfg := GetDefaultConfig()
		mutate(cfg)
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected valid config, got: %v", err)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]uint32{"0755": 0o755, "1777": 0o1777, "0o700": 0o700, "0": 0} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %o, %v; want %o", in, got, err, want)
		}
	}
	for _, in := range []string{"", "888", "17777", "abc"} {
		if _, err := ParseMode(in); err == nil {
			t.Errorf("ParseMode(%q) should fail", in)
		}
	}
}
