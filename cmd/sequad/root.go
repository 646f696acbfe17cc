package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/foch-qualite/sequad/internal/shared/config"
	"github.com/foch-qualite/sequad/internal/shared/logging"
)

var (
	cfg *config.Config
	log zerolog.Logger

	configFile string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sequad",
	Short: "Reconcile discharge letters with their diffusions",
	Long: `sequad matches the discharge letters validated in Easily with the
diffusions sent by Lifen, stay by stay, and reports delays, missing
diffusions and per-service coverage.

Configuration comes from the environment (and .env), optionally overlaid
by a YAML file given with --config or SEQUAD_CONFIG.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file (overrides SEQUAD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func setup(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		os.Setenv("SEQUAD_CONFIG", configFile)
	}
	loaded, err := config.Load(8080)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logFormat != "" {
		loaded.Log.Format = logFormat
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	log = logging.Setup(cfg.Log.Format, cfg.Log.Level).With().Str("service", "sequad").Logger()
	return nil
}
