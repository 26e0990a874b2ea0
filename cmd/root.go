package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Batch entity resolution and import for business records",
	Long:  "Ingests accounting exports, consolidates customers across name variations and email domains, deduplicates addresses, and upserts the result into the database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
