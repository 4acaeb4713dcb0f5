package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"watchfolder/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var httpAddr string
	var logLevel string
	var logFormat string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch configured folders until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				settings.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				settings.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				settings.Daemon.LogFormat = logFormat
			}

			level, ok := logging.ParseLevel(settings.Daemon.LogLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", settings.Daemon.LogLevel)
			}
			format, ok := logging.ParseFormat(settings.Daemon.LogFormat)
			if !ok {
				return fmt.Errorf("unknown log format %q", settings.Daemon.LogFormat)
			}
			logger := logging.New(logging.Options{
				MinLevel: level,
				Output:   cmd.ErrOrStderr(),
				Format:   format,
			})
			if ctx.dotEnv != "" {
				logger.Debug("loaded .env", map[string]string{"path": ctx.dotEnv})
			}

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			signalCh := make(chan os.Signal, 2)
			signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signalCh)
			stopSignals := watchShutdownSignals(logger, cancel, signalCh)
			defer stopSignals()

			return runDaemon(runCtx, daemonOptions{
				SettingsPath: ctx.settingsPath(),
				Settings:     settings,
				Logger:       logger,
			})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (\"off\" disables)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warning, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log output format (text, json)")
	return cmd
}

// runDaemon blocks until ctx is done, then tears the daemon down.
func runDaemon(ctx context.Context, opts daemonOptions) error {
	d, err := startDaemon(ctx, opts)
	if err != nil {
		return err
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}
	<-ctx.Done()
	d.logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Shutdown(shutdownCtx)
}
