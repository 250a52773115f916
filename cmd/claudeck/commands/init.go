package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudeck/claudeck/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample claudeck configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/claudeck/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  claudeck init

  # Initialize with custom path
  claudeck init --config /etc/claudeck/config.yaml

  # Force overwrite existing config
  claudeck init --force`,
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
	fmt.Println("  1. Set allowed_project_roots and allowed_file_roots under paths:")
	fmt.Println("  2. Set an admin bootstrap password (admin.password, 12+ characters)")
	fmt.Println("  3. Start the server with: claudeck start")
	fmt.Printf("  4. Or specify custom config: claudeck start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT secret has been generated for this installation.")
	fmt.Println("  To rotate it, generate a new one and export it instead:")
	fmt.Println("    export CLAUDECK_AUTH_JWT_SECRET=$(openssl rand -hex 32)")

	return nil
}
