package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opmcpd/internal/app"
	"opmcpd/internal/infra/protocol"
)

type serveOptions struct {
	mode        string
	serversPath string
	cacheDir    string
	maxTurns    int
	watch       bool
	logLevel    string

	all         bool
	noAgents    bool
	stdio       bool
	httpAddr    string
	grpcAddr    string
	metricsAddr string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := serveOptions{
		mode: string(protocol.ModeCompact),
	}

	root := &cobra.Command{
		Use:   "opmcpd",
		Short: "Tool aggregation and execution engine",
	}

	root.PersistentFlags().StringVar(&opts.serversPath, "servers", opts.serversPath, "path to external server config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			mode, err := protocol.ParseMode(opts.mode)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				leveled, err := buildLogger(opts.logLevel)
				if err != nil {
					return err
				}
				defer func() { _ = leveled.Sync() }()
				logger = leveled
			}
			if opts.all {
				if opts.httpAddr == "" {
					opts.httpAddr = "127.0.0.1:8900"
				}
				if opts.grpcAddr == "" {
					opts.grpcAddr = "127.0.0.1:8901"
				}
				if opts.metricsAddr == "" {
					opts.metricsAddr = "127.0.0.1:9090"
				}
			}
			application, err := app.New(app.Options{
				Mode:          mode,
				ServersPath:   opts.serversPath,
				CacheDir:      opts.cacheDir,
				MaxTurns:      opts.maxTurns,
				WatchConfig:   opts.watch,
				Stdio:         opts.stdio,
				HTTPAddr:      opts.httpAddr,
				GRPCAddr:      opts.grpcAddr,
				MetricsAddr:   opts.metricsAddr,
				DisableAgents: opts.noAgents,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			return application.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", opts.mode, "serving mode: full, compact, or agents")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn, or error")
	cmd.Flags().BoolVar(&opts.all, "all", opts.all, "enable every transport on default addresses")
	cmd.Flags().BoolVar(&opts.noAgents, "no-agents", opts.noAgents, "drop agent-backed tools from the catalog")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", opts.cacheDir, "directory for the tool metadata cache")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", opts.maxTurns, "per-request tool call ceiling (0 uses the config or default)")
	cmd.Flags().BoolVar(&opts.watch, "watch", opts.watch, "reload the server set when the config file changes")
	cmd.Flags().BoolVar(&opts.stdio, "stdio", true, "serve line-delimited JSON-RPC on stdin/stdout")
	cmd.Flags().StringVar(&opts.httpAddr, "http", opts.httpAddr, "HTTP listen address (empty disables)")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc", opts.grpcAddr, "gRPC listen address (empty disables)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics", opts.metricsAddr, "Prometheus listen address (empty disables)")

	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the server config file without spawning anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ValidateConfig(opts.serversPath, logger)
		},
	}

	return cmd
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = parsed
	return cfg.Build()
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
