package main

import (
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/intake/config"
)

var (
	envFile string

	cfg       *config.Config
	zapLogger *zap.Logger
	logger    ectologger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Laboratory application intake service",
	Long: `intake serves the multi-step laboratory application wizard: it keeps each
session's draft in durable storage, gates step navigation on validation and submits
completed applications to the applications API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}

		zapLogger, err = newZapLogger(cfg.LogLevel, cfg.PrettyLogs)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = zapadapter.NewZapEctoLogger(zapLogger, nil)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zapLogger != nil {
			_ = zapLogger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.AppName, cfg.Version)
	},
}

func newZapLogger(level string, pretty bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if pretty {
		zapCfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	return zapCfg.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd, mockAPICmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
