package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "naviguard",
	Short:         "Naviguard drives curated internal pages in a guarded embedded browser.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "naviguard"})
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
		observability.InitializeLogger(cfg.Logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(newServeCmd(), newMacroCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if cfg != nil {
			observability.GetLogger().Error("Command failed", zap.Error(err))
			observability.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
