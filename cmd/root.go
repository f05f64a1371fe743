package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pricematch",
	Short: "Cross-retailer product matching and price reconciliation",
	Long:  "Normalizes scraped catalog snapshots from two e-commerce platforms, matches listings to canonical reference products, and reconciles prices into a comparison report.",
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
