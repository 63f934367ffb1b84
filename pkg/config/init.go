package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const configHeader = `# AgentFS Configuration File
#
# Every value can be overridden with an AGENTFS_ environment variable,
# e.g. AGENTFS_LOGGING_LEVEL=DEBUG or AGENTFS_STORAGE_TYPE=badger.
# Sizes accept "64Ki", "256Mi", "1GB"; durations accept "1s", "5m".
# Run "agentfs config schema" for the full JSON schema.

`

// InitConfig writes a default configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration to path.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(GetDefaultConfig(), path, force)
}

// WriteConfig saves cfg to path with a commented header. An existing
// file is kept unless force is set.
func WriteConfig(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("refusing to write invalid configuration: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := SaveRaw(path, buf.Bytes()); err != nil {
		return err
	}
	return nil
}
