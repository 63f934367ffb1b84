package config

import (
	"fmt"

	"github.com/marmos91/agentfs/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate the AgentFS configuration file.

Checks for syntax errors, missing required fields and invalid values,
then prints warnings for settings that are valid but probably unintended.

Examples:
  agentfs config validate
  agentfs config validate --config ./agentfs.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	return nil
}

// Warnings lists settings that pass validation but are likely mistakes.
func Warnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.Storage.Type == "memory" && cfg.Storage.Memory.MaxSize == 0 {
		warnings = append(warnings, "memory storage has no max_size; content can grow without bound")
	}
	if cfg.Faults.Enabled {
		warnings = append(warnings, fmt.Sprintf("fault injection is enabled with %d rule(s)", len(cfg.Faults.Rules)))
	}
	if cfg.Core.RootBypassPermissions {
		warnings = append(warnings, "uid 0 bypasses permission checks")
	}
	if cfg.Storage.Type == "badger" && cfg.Storage.Badger.InMemory {
		warnings = append(warnings, "badger runs in memory; content is lost on exit")
	}
	return warnings
}
