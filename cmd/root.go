package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cartcore",
	Short: "Storefront cart sync and recommendation engine",
	Long:  "Keeps per-session cart state in sync with the storefront, derives complementary product recommendations, and drives spend-based reward unlocks.",
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
