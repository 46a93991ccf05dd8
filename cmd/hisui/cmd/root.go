// Package cmd implements the CLI commands for hisui.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hisui-tv/hisui/internal/config"
	"github.com/hisui-tv/hisui/internal/observability"
	"github.com/hisui-tv/hisui/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the loaded configuration, available to all subcommands after
// PersistentPreRunE has run.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hisui",
	Short:   "Personal live and recorded TV server for ISDB broadcasts",
	Version: version.Short(),
	Long: `hisui streams live ISDB-T/ISDB-S television and indexed recordings
through a single HTTP server.

It drives an EDCB recorder backend for tuners and EPG data, transcodes
with FFmpeg or the HWEncC family, and serves viewers over MPEG-TS and
LL-HLS.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfigAndLogging(rootCmd.PersistentFlags())
	}

	// These flags are not bound to viper: they only override the
	// config/env values when explicitly set, which preserves the
	// priority CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfigAndLogging loads the configuration and installs the default
// logger. Runs before every subcommand.
func initConfigAndLogging(flags *pflag.FlagSet) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		loaded.Logging.Level = strings.ToLower(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		loaded.Logging.Format = strings.ToLower(format)
	}
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(loaded.Logging, os.Stderr)
	slog.SetDefault(logger)

	cfg = loaded
	return nil
}
