package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitscribe/internal/config"
	"github.com/mmynk/splitscribe/pkg/logging"
)

var (
	configPath string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "splitscribe",
	Short: "Scan bills and split them between friends",
	Long: `splitscribe reads a bill image, asks a generative model to split it
according to a plain-language instruction, checks the answer, and records
the expense and each member's share.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger = logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}
