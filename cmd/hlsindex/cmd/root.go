// Package cmd implements the CLI commands for hlsindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/version"
	"github.com/jmylchreest/hlsindex/pkg/httpclient"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "hlsindex",
	Short:   "HLS playlist inspector",
	Version: version.Short(),
	Long: `hlsindex parses HLS master playlists into a presentation model:
variants, audio/video/text streams, DRM info and per-stream segment
indexes on a single presentation timeline.

Live and event playlists are refreshed on their target duration so the
segment windows track the origin.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	// Not bound to viper: an explicitly set flag overrides env and file,
	// an unset flag must not.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/hlsindex, $HOME/.hlsindex)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	overrideString(rootCmd.PersistentFlags(), "log-level", &cfg.Logging.Level)
	overrideString(rootCmd.PersistentFlags(), "log-format", &cfg.Logging.Format)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)
	observability.SetRequestLoggingEnabled(cfg.Logging.RequestLogging)
	return nil
}

// overrideString copies a flag into dst only when it was set explicitly.
func overrideString(fs *pflag.FlagSet, name string, dst *string) {
	if fs.Changed(name) {
		*dst, _ = fs.GetString(name)
	}
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) {
	if fs.Changed(name) {
		*dst, _ = fs.GetInt(name)
	}
}

// newFetcher builds the playlist and segment fetcher from the fetch section.
func newFetcher(fc config.FetchConfig, logger *slog.Logger) (*fetch.Client, *httpclient.Client) {
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = fc.Timeout
	hcfg.RetryAttempts = fc.RetryAttempts
	hcfg.RetryDelay = fc.RetryDelay
	hcfg.RetryMaxDelay = fc.RetryMaxDelay
	hcfg.BackoffMultiplier = fc.BackoffMultiplier
	hcfg.CircuitThreshold = fc.CircuitThreshold
	hcfg.CircuitTimeout = fc.CircuitTimeout
	hcfg.MaxResponseSize = fc.MaxResponseBytes
	hcfg.UserAgent = fc.UserAgent
	if hcfg.UserAgent == "" {
		hcfg.UserAgent = version.UserAgent()
	}
	hcfg.Logger = observability.WithComponent(logger, "httpclient")

	hc := httpclient.New(hcfg)
	return fetch.NewClient(hc, observability.WithComponent(logger, "fetch"),
		fetch.WithMaxBytes(fc.MaxResponseBytes)), hc
}
