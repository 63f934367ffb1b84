// Package commands implements the agentfs command line.
package commands

import (
	"github.com/marmos91/agentfs/cmd/agentfs/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "agentfs",
	Short: "AgentFS - copy-on-write filesystem core for agent sandboxes",
	Long: `AgentFS is an in-process virtual filesystem with snapshots, branches
and per-process views. Adapters (FUSE, NFS, test harnesses) embed the core;
this tool manages its configuration and exercises a configured core.

Use "agentfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/agentfs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
