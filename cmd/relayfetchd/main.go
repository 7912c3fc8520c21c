// Package main implements relayfetchd, the relaying file mirror daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relayfetch/relayfetch/internal/adminhttp"
	"github.com/relayfetch/relayfetch/internal/fileserver"
	"github.com/relayfetch/relayfetch/internal/relay"
)

const (
	defaultConfigPath = "config/config.toml"
	defaultFilesPath  = "config/files.toml"
)

var (
	version = "dev"
	commit  = "unknown"

	configPath string
	filesPath  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "relayfetchd",
	Short: "Run the relayfetch mirror daemon",
	Long: `relayfetchd periodically mirrors a set of remote files into a local
directory and serves them back over HTTP, with an admin HTTP transport
for on-demand control.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("relayfetchd %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "runtime config file path")
	rootCmd.PersistentFlags().StringVarP(&filesPath, "files", "f", defaultFilesPath, "file map document path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	center, err := relay.NewCenter(configPath, filesPath)
	if err != nil {
		slog.Error("fatal startup error", "error", err)
		os.Exit(1)
	}

	cfg := center.ConfigSnapshot()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}

	scheduler := relay.NewScheduler(center)
	mgmt := relay.NewManagement(center, scheduler)
	admin := adminhttp.New(mgmt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return scheduler.Run(gctx)
	})
	group.Go(func() error {
		return fileserver.Serve(gctx, cfg.Bind, cfg.StorageDir)
	})
	group.Go(func() error {
		return admin.Serve(gctx, cfg.HTTPAdmin)
	})

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		slog.Error("daemon exited with error", "error", err)
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
