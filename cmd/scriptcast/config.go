package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/scriptcast/internal/config"
	"github.com/jackzampolin/scriptcast/internal/home"
	"github.com/jackzampolin/scriptcast/internal/library"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the scriptcast config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a default config file to the home directory
(or to the path given with --config).

Examples:
  scriptcast config init
  scriptcast config init --force
  scriptcast config init --config ./config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if !configForce && fileExists(path) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := *mgr.Get()
		cfg.Backend.APIKey = maskSecret(cfg.Backend.APIKey)
		cfg.LLM.APIKey = maskSecret(cfg.LLM.APIKey)
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// maskSecret hides literal keys. ${ENV_VAR} references are shown as written.
func maskSecret(s string) string {
	if s == "" || strings.HasPrefix(s, "${") {
		return s
	}
	return library.MaskKey(s)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
