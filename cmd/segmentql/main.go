package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/config"
	"github.com/rpattn/segmentql/internal/logger"
)

const RootHelp = `segmentql filters contacts by dynamic attributes and keeps segments and lists in step with them.

Configuration is read from config.yaml in the --config directory and from
SEGMENTQL_* environment variables.`

func main() {
	code := RunClient()
	os.Exit(code)
}

func RunClient() int {
	err := RootCmd().Execute()

	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// cli is filled in by the root command before any subcommand runs.
type cli struct {
	configDir string
	logLevel  string
	logFormat string

	cfg    config.Config
	logger *slog.Logger
}

func RootCmd() *cobra.Command {
	rt := &cli{}

	rootCmd := &cobra.Command{
		Use:               "segmentql",
		Short:             "Dynamic attribute filtering and segmentation for contacts",
		Long:              RootHelp,
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVar(&rt.configDir, "config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&rt.logFormat, "log-format", "", "Log format (text, json); overrides the config")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, fileLoaded, err := config.Load(rt.configDir)
		if err != nil {
			return err
		}
		if rt.logLevel != "" {
			cfg.Log.Level = rt.logLevel
		}
		if rt.logFormat != "" {
			cfg.Log.Format = rt.logFormat
		}

		log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("invalid log settings: %w", err)
		}
		rt.cfg = cfg
		rt.logger = log
		log.Debug("configuration loaded", "dir", rt.configDir, "file", fileLoaded, "driver", cfg.Database.Driver)
		return nil
	}

	rootCmd.AddCommand(
		serveCmd(rt),
		migrateCmd(rt),
		seedCmd(rt),
		fieldsCmd(rt),
		segmentsCmd(rt),
		exportCmd(rt),
	)

	return rootCmd
}
