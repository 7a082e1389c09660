package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftpy/ftpy/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate an ftpy configuration file without starting the server.

Loads the configuration, applies defaults and environment overrides, and
runs the same checks the server performs at startup.

Examples:
  # Validate the default config file
  ftpy config validate

  # Validate a specific file
  ftpy config validate --config /etc/ftpy/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	if _, err := config.MustLoad(configPath); err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	return nil
}
