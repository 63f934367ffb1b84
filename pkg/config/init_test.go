package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitConfig_DefaultLocation(t *testing.T) {
	// XDG_CONFIG_HOME works on every platform, unlike HOME
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), path)
	}
	if !DefaultConfigExists() {
		t.Fatal("Expected config at the default location")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{"# AgentFS Configuration File", "logging:", "core:", "storage:", "faults:"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Generated config is missing %q", section)
		}
	}

	if _, err := InitConfig(false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if _, err := InitConfig(true); err != nil {
		t.Errorf("InitConfig with force failed: %v", err)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("First InitConfigToPath failed: %v", err)
	}

	err := InitConfigToPath(path, false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config failed to load: %v", err)
	}
	want := GetDefaultConfig()
	if cfg.Storage.Tiered.HotSize != want.Storage.Tiered.HotSize {
		t.Errorf("hot_size changed across save/load: %d vs %d", cfg.Storage.Tiered.HotSize, want.Storage.Tiered.HotSize)
	}
	if cfg.Core.Cache.AttrTTL != want.Core.Cache.AttrTTL {
		t.Errorf("attr_ttl changed across save/load: %v vs %v", cfg.Core.Cache.AttrTTL, want.Core.Cache.AttrTTL)
	}
	if cfg.Core.DefaultCredentials.UID != Nobody {
		t.Errorf("Expected default uid %d, got %d", Nobody, cfg.Core.DefaultCredentials.UID)
	}
}

func TestWriteConfig_RejectsInvalid(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "hostfs"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteConfig(cfg, path, false); err == nil {
		t.Fatal("Expected invalid config to be refused")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Nothing should be written for an invalid config")
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema failed: %v", err)
	}
	for _, want := range []string{`"AgentFS Configuration"`, `"storage"`, `"case_sensitivity"`, `"rules"`} {
		if !strings.Contains(string(schema), want) {
			t.Errorf("Schema is missing %s", want)
		}
	}
}
