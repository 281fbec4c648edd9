package cli

import (
	"fmt"

	"github.com/KafClaw/wsagent/internal/config"
	"github.com/KafClaw/wsagent/internal/ledger"
	"github.com/spf13/cobra"
)

var ledgerStoreID string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the processed-message ledger",
}

var ledgerCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count processed messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		tr := ledger.NewTracker(cfg.Ledger.Path)
		if err := tr.Initialize(cmd.Context()); err != nil {
			return err
		}
		defer tr.Close()

		n, err := tr.ProcessedCount(cmd.Context(), ledgerStoreID)
		if err != nil {
			return err
		}
		scope := "all stores"
		if ledgerStoreID != "" {
			scope = ledgerStoreID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Processed messages (%s): %d\n", scope, n)
		return nil
	},
}

func init() {
	ledgerCountCmd.Flags().StringVar(&ledgerStoreID, "store", "", "limit the count to one store id")
	ledgerCmd.AddCommand(ledgerCountCmd)
}
