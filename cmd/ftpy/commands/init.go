package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftpy/ftpy/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ftpy configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/ftpy/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ftpy init

  # Initialize with custom path
  ftpy init --config /etc/ftpy/config.yaml

  # Force overwrite existing config
  ftpy init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set server.sandbox_root to the directory you want to serve")
	fmt.Println("  2. Add users under auth.users (an empty map accepts any login)")
	fmt.Println("  3. Start the server with: ftpy start")
	fmt.Printf("  4. Or specify custom config: ftpy start --config %s\n", configPath)

	return nil
}
