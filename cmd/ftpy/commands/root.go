// Package commands implements the CLI commands for ftpy server management.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	configcmd "github.com/ftpy/ftpy/cmd/ftpy/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ftpy",
	Short: "ftpy - sandboxed FTP server",
	Long: `ftpy is a small FTP server that serves a single sandboxed directory.
It supports passive and active data connections, binary and ASCII transfer
modes, and machine-readable directory listings (MLSD).

Use "ftpy [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ftpy/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ftpy %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
