package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/whatsease-server/internal/app"
	"github.com/vovakirdan/whatsease-server/internal/config"
	"github.com/vovakirdan/whatsease-server/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type serveOptions struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:           "whatsease",
		Short:         "WhatsEase real-time chat server",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	addServeFlags(root, opts)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	addServeFlags(serve, opts)

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "whatsease", version)
		},
	})
	return root
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func runServe(parent context.Context, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLogger := log.New("info")
	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(config.Config{Addr: opts.addr, LogLevel: opts.logLevel})

	logger := log.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting whatsease server")

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
