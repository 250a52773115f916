package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/claudeck/claudeck/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current claudeck configuration.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  claudeck config show

  # Show as JSON
  claudeck config show --output json

  # Show specific config file
  claudeck config show --config /etc/claudeck/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Config path comes from the root command's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	switch showOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(cfg)
	default:
		return fmt.Errorf("invalid output format %q (must be yaml or json)", showOutput)
	}
}
