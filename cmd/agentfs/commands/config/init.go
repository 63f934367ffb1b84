package config

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/agentfs/internal/cli/prompt"
	"github.com/marmos91/agentfs/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Write a configuration file with default values.

The file goes to --config when given, otherwise to
$XDG_CONFIG_HOME/agentfs/config.yaml.

Examples:
  # Write the defaults
  agentfs config init

  # Answer a few questions first
  agentfs config init --interactive

  # Overwrite an existing file
  agentfs config init --force --config ./agentfs.yaml`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := askSettings(cfg, filepath.Dir(path)); err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
				return nil
			}
			return err
		}
	}

	if err := config.WriteConfig(cfg, path, initForce); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}

func askSettings(cfg *config.Config, baseDir string) error {
	storage, err := prompt.Select("Storage backend", []prompt.Option{
		{Label: "memory", Value: "memory", Description: "Process memory, lost on exit"},
		{Label: "hostfs", Value: "hostfs", Description: "One file per stream in a host directory"},
		{Label: "badger", Value: "badger", Description: "Chunked streams in a Badger key-value store"},
		{Label: "tiered", Value: "tiered", Description: "Memory with compressed spill to a block store"},
	})
	if err != nil {
		return err
	}
	cfg.Storage.Type = storage

	switch storage {
	case "hostfs":
		if cfg.Storage.HostFS.Path, err = prompt.Input("Content directory", filepath.Join(baseDir, "content"), required); err != nil {
			return err
		}
	case "badger":
		if cfg.Storage.Badger.Path, err = prompt.Input("Badger directory", filepath.Join(baseDir, "badger"), required); err != nil {
			return err
		}
	case "tiered":
		if cfg.Storage.Tiered.Codec, err = prompt.Select("Spill compression", []prompt.Option{
			{Label: "zstd", Value: "zstd"}, {Label: "lz4", Value: "lz4"}, {Label: "none", Value: "none"},
		}); err != nil {
			return err
		}
		cfg.Storage.Tiered.Spill.Type = "fs"
		if cfg.Storage.Tiered.Spill.FS.Path, err = prompt.Input("Spill directory", filepath.Join(baseDir, "spill"), required); err != nil {
			return err
		}
	}

	if cfg.Core.CaseSensitivity, err = prompt.Select("Name matching", []prompt.Option{
		{Label: "sensitive", Value: "sensitive", Description: "Linux semantics"},
		{Label: "insensitive", Value: "insensitive", Description: "macOS/Windows semantics, case preserved"},
	}); err != nil {
		return err
	}

	if cfg.Core.DefaultCredentials.UID, err = prompt.InputUint32("Default uid for unregistered processes", cfg.Core.DefaultCredentials.UID); err != nil {
		return err
	}
	if cfg.Core.DefaultCredentials.GID, err = prompt.InputUint32("Default gid for unregistered processes", cfg.Core.DefaultCredentials.GID); err != nil {
		return err
	}
	if cfg.Core.TrackEvents, err = prompt.Confirm("Track change events", cfg.Core.TrackEvents); err != nil {
		return err
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("a value is required")
	}
	return nil
}
