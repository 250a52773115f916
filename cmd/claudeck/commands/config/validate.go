package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudeck/claudeck/pkg/config"
	"github.com/claudeck/claudeck/pkg/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the claudeck configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  claudeck config validate

  # Validate specific config file
  claudeck config validate --config /etc/claudeck/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Config path comes from the root command's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Auth.JWTSecret == "" {
		warnings = append(warnings, "JWT secret not configured - the server will refuse to start")
	}
	if len(cfg.Paths.ProjectRoots) == 0 {
		warnings = append(warnings, "No project roots configured - session creation will be denied")
	}
	if len(cfg.Paths.FileRoots) == 0 {
		warnings = append(warnings, "No file roots configured - the file editor will be unavailable")
	}
	if cfg.Admin.Password != "" && len(cfg.Admin.Password) < store.MinAdminPasswordLen {
		warnings = append(warnings, fmt.Sprintf("Admin bootstrap password shorter than %d characters will be ignored", store.MinAdminPasswordLen))
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database type:   %s\n", cfg.Database.Type)
	fmt.Printf("  API address:     %s:%d\n", cfg.API.Host, cfg.API.Port)
	fmt.Printf("  Tmux socket:     %s\n", cfg.Multiplexer.Socket)
	fmt.Printf("  CLI path:        %s\n", cfg.CLI.Path)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
