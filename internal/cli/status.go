package cli

import (
	"fmt"
	"os"

	"github.com/KafClaw/wsagent/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ wsagent Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 wsagent Status")
		fmt.Fprintf(out, "Version: %s\n", version)

		path := configPath
		if path == "" {
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Config:  %s Found (%s)\n", check(true), path)
		} else {
			fmt.Fprintf(out, "Config:  %s Not found, using defaults (%s)\n", check(false), path)
		}

		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			fmt.Fprintf(out, "Config:  %s Unable to load: %v\n", check(false), err)
			return err
		}
		fmt.Fprintf(out, "API Key: %s\n", check(cfg.Provider.APIKey != ""))
		fmt.Fprintf(out, "Model:   %s\n", cfg.Model.Name)
		fmt.Fprintf(out, "Store:   %s %v\n", cfg.Store.Backend, cfg.Store.Brokers)
		fmt.Fprintf(out, "Ledger:  %s\n", cfg.Ledger.Path)
		fmt.Fprintf(out, "Alerts:  %s\n", check(cfg.Alerts.Enabled()))
		if len(cfg.Orchestrator.Workspaces) > 0 {
			fmt.Fprintf(out, "Workspaces: %v\n", cfg.Orchestrator.Workspaces)
		}
		return nil
	},
}
