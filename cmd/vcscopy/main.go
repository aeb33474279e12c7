// Command vcscopy is the copy/move dispatch core's CLI front end: a cobra
// root with one file per leaf command.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/copycore/vcscopy/internal/config"
	"github.com/copycore/vcscopy/internal/copynotify"

	_ "github.com/copycore/vcscopy/internal/ra/gitra"
)

var rootCmd = &cobra.Command{
	Use:   "vcscopy",
	Short: "Copy and move paths between working copies and repositories",
	Long: `vcscopy drives the copy/move dispatch core across all four transport
arms (working-copy-to-working-copy, working-copy-to-repository,
repository-to-working-copy, and repository-to-repository), normalizing
heterogeneous source specifiers into a single commit or filesystem
operation.`,
}

var (
	flagConfigDir  string
	flagLogFile    string
	flagNotifyAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "directory to search for .vcscopy.toml/.vcscopy.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "rotating log file (stderr if unset)")
	rootCmd.PersistentFlags().StringVar(&flagNotifyAddr, "notify-addr", "", "if set, broadcast progress events on this websocket listen address")
}

// loadRuntime resolves config, wires structured logging, and starts the
// notification server named by --notify-addr (or the config file's
// notify_addr), returning a cleanup func the caller must defer.
func loadRuntime(flags config.FlagSource) (config.Config, *slog.Logger, *copynotify.Server, func(), error) {
	cfg, err := config.Load(flagConfigDir, flags)
	if err != nil {
		return config.Config{}, nil, nil, func() {}, err
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagNotifyAddr != "" {
		cfg.NotifyAddr = flagNotifyAddr
	}

	var handler slog.Handler
	if w := config.NewLogWriter(cfg); w != nil {
		handler = slog.NewJSONHandler(w, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	var notify *copynotify.Server
	cleanup := func() {}
	if cfg.NotifyAddr != "" {
		port := 0
		if _, err := fmt.Sscanf(cfg.NotifyAddr, ":%d", &port); err != nil || port == 0 {
			port = copynotify.DefaultConfig().Port
		}
		notify = copynotify.NewServer(&copynotify.Config{Port: port})
		if err := notify.Start(); err != nil {
			logger.Warn("notify server failed to start", "err", err)
			notify = nil
		} else {
			cleanup = func() { _ = notify.Stop() }
		}
	}
	return cfg, logger, notify, cleanup, nil
}

// isInteractive reports whether stdout is an interactive terminal, used to
// decide whether to print a progress dot per notification, on any arm.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
