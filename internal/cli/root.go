package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/wsagent/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		" __      _____  __ _  __ _  ___ _ __ | |_\n" +
		" \\ \\ /\\ / / __|/ _` |/ _` |/ _ \\ '_ \\| __|\n" +
		"  \\ V  V /\\__ \\ (_| | (_| |  __/ | | | |_\n" +
		"   \\_/\\_/ |___/\\__,_|\\__, |\\___|_| |_|\\__|\n" +
		"                     |___/\n"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "wsagent",
	Short: "wsagent - workspace conversation agent",
	Long:  color.CyanString(logo) + "\nWatches workspace event logs and answers every user message exactly once.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), logLevel, logFormat)
	},
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.wsagent/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ledgerCmd)
}
