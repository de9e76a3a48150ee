package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "audience-cli",
	Short: "Build lookalike audiences and follow their progress",
	Long:  "Drives lookalike audience construction from a seed source, submits jobs to the lookalike gateway and reconciles job progress from push and poll channels.",
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
