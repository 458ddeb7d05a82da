package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artifactflow/artifactflow/internal/config"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration file, apply environment overrides and
defaults, and run the same validation the server runs at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Long: `Print the JSON schema for the configuration file.

The schema can drive editor completion and CI validation of config files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

// runConfigValidate handles the config validate command.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if configPath == "" {
		fmt.Fprintln(out, "Configuration OK (environment only).")
	} else {
		fmt.Fprintf(out, "Configuration OK: %s\n", configPath)
	}
	fmt.Fprintf(out, "  server:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  database: %s\n", databaseLabel(cfg))
	fmt.Fprintf(out, "  provider: %s\n", cfg.LLM.DefaultProvider)
	if cfg.Agents.File != "" {
		fmt.Fprintf(out, "  agents:   %s\n", cfg.Agents.File)
	} else {
		fmt.Fprintf(out, "  agents:   %d defined\n", len(cfg.Agents.Definitions))
	}
	return nil
}

// runConfigSchema handles the config schema command.
func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
