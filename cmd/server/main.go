package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/songhub-server/internal/app"
	"github.com/vovakirdan/songhub-server/internal/auth"
	"github.com/vovakirdan/songhub-server/internal/config"
	applog "github.com/vovakirdan/songhub-server/internal/log"
	"github.com/vovakirdan/songhub-server/internal/proto"
)

type serveFlags struct {
	configPath string
	tcpAddr    string
	httpAddr   string
	tickrate   int
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "songhub",
		Short:        "Multiplayer session server for rhythm game rooms",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd(), newHashPasswordCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.tcpAddr, "tcp-addr", "", "TCP listen address")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().IntVar(&f.tickrate, "tickrate", 0, "ticks per second (5-150)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	return cmd
}

func serve(cmd *cobra.Command, f serveFlags) error {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, path, err := config.Load(&boot, f.configPath)
	if err != nil {
		return err
	}
	if f.tcpAddr != "" {
		cfg.Server.TCPAddr = f.tcpAddr
	}
	if f.httpAddr != "" {
		cfg.Server.HTTPAddr = f.httpAddr
	}
	if cmd.Flags().Changed("tickrate") {
		cfg.Server.Tickrate = config.ClampTickrate(f.tickrate)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	logger, closer := applog.New(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize app")
		return err
	}

	logger.Info().
		Str("config", path).
		Str("version", proto.ServerVersion.String()).
		Str("tcp_addr", cfg.Server.TCPAddr).
		Str("http_addr", cfg.Server.HTTPAddr).
		Int("tickrate", cfg.Server.Tickrate).
		Msg("starting songhub server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the protocol version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), proto.ServerVersion.String())
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
