package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nao1215/crawlcache/internal/config"
	"github.com/nao1215/crawlcache/internal/log"
)

// NewRootCmd creates the root command for crawlcache.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlcache",
		Short: "Cache-backed concurrent downloader and crawler",
		Long: `crawlcache downloads web pages and keeps every response in a local sqlite
cache, so repeated runs are served from disk instead of the network.

Downloads are retried according to the status code, spaced out per proxy
and spread over a rotating proxy pool. The crawl command follows links
breadth-first over a pool of concurrent workers.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(newLogger(cmd))
		},
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .crawlcache in current or home directory)")
	cmd.PersistentFlags().String("cache-file", "",
		"sqlite cache path (default: "+config.DefaultCacheFile()+")")

	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewCacheCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger creates the secure logger selected by the global flags.
// Logs go to the command's error stream.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose := getBoolFlag(cmd, "verbose")
	jsonOutput := getBoolFlag(cmd, "log-json")
	return log.New(cmd.ErrOrStderr(), verbose, jsonOutput)
}

// getBoolFlag retrieves a flag from the command or the root's persistent
// flags, returning false when it is not defined.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	var v bool
	if err := readFlag(cmd, name, (*pflag.FlagSet).GetBool, &v); err != nil {
		return false
	}
	return v
}
