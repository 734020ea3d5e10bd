// Package app wires the engine together: discovery sources, the
// external process manager, the agent roster, the registry, and the
// transports, with one Serve call owning the whole lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/agents"
	"opmcpd/internal/infra/discovery"
	"opmcpd/internal/infra/extproc"
	"opmcpd/internal/infra/metacache"
	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/registry"
	"opmcpd/internal/infra/rpc"
	"opmcpd/internal/infra/telemetry"
	"opmcpd/internal/infra/transport"
)

// Options configures one engine instance. Zero-value fields fall back
// to sensible defaults; empty addresses disable their transport.
type Options struct {
	Mode        protocol.Mode
	ServersPath string
	CacheDir    string
	MaxTurns    int
	WatchConfig bool

	Stdio       bool
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	// Optional producers for bus and plugin discovery. Nil skips the
	// source.
	Dbus    discovery.ServiceCatalog
	Plugins discovery.PluginHost

	// DisableAgents drops agent-backed tools from the catalog without
	// unregistering the roster.
	DisableAgents bool

	Logger *zap.Logger
}

// App holds the wired engine.
type App struct {
	opts     Options
	logger   *zap.Logger
	registry *prometheus.Registry

	cache     *metacache.Store
	discovery *discovery.System
	manager   *extproc.Manager
	executor  *agents.LocalExecutor
	tools     *registry.Registry
	server    *protocol.Server
	loader    *extproc.Loader

	serverConfigs []domain.ServerConfig
}

// New builds the engine without starting anything that listens.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	var cache *metacache.Store
	if opts.CacheDir != "" {
		store, err := metacache.Open(filepath.Join(opts.CacheDir, "metacache.db"))
		if err != nil {
			return nil, fmt.Errorf("open metadata cache: %w", err)
		}
		cache = store
	}

	system := discovery.NewSystem(discovery.SystemOptions{Logger: logger, Metrics: metrics})
	manager := extproc.NewManager(extproc.ManagerOptions{
		Logger:   logger,
		Metrics:  metrics,
		Cache:    cache,
		Notifier: system,
	})
	loader := extproc.NewLoader(logger)

	maxTurns := opts.MaxTurns
	var configs []domain.ServerConfig
	if opts.ServersPath != "" {
		cfg, err := loader.Load(opts.ServersPath)
		if err != nil {
			if cache != nil {
				_ = cache.Close()
			}
			return nil, fmt.Errorf("load server config: %w", err)
		}
		configs = cfg.Servers
		if maxTurns <= 0 {
			maxTurns = cfg.MaxTurns
		}
	}

	roster := agents.DefaultRoster()
	executor := agents.NewLocalExecutor(agents.LocalExecutorOptions{Roster: roster, Logger: logger})

	app := &App{
		opts:          opts,
		logger:        logger.Named("app"),
		registry:      promRegistry,
		cache:         cache,
		discovery:     system,
		manager:       manager,
		executor:      executor,
		loader:        loader,
		serverConfigs: configs,
	}

	// Registration order is trust order for name conflicts: compiled-in
	// tools first, external servers last.
	if err := system.Register(discovery.NewBuiltinSource("builtin", "engine introspection tools", app.builtinTools())); err != nil {
		return nil, err
	}
	if opts.Dbus != nil {
		if err := system.Register(discovery.NewDbusSource(opts.Dbus)); err != nil {
			return nil, err
		}
	}
	if opts.Plugins != nil {
		if err := system.Register(discovery.NewPluginSource(opts.Plugins)); err != nil {
			return nil, err
		}
	}
	agentSource := agents.NewToolSource(roster)
	if err := system.Register(agentSource); err != nil {
		return nil, err
	}
	if opts.DisableAgents {
		system.SetEnabled(agentSource.Name(), false)
	}
	if err := system.Register(extproc.NewCatalogSource(manager)); err != nil {
		return nil, err
	}

	app.tools = registry.New(registry.Options{
		Discovery: system,
		External:  manager,
		Roster:    roster,
		Executor:  executor,
		Logger:    logger,
		Metrics:   metrics,
		MaxTurns:  maxTurns,
	})
	app.registerBuiltinHandlers()

	app.server = protocol.NewServer(protocol.ServerOptions{
		Registry: app.tools,
		Mode:     opts.Mode,
		Logger:   logger,
	})
	return app, nil
}

// Protocol exposes the protocol server for embedding.
func (a *App) Protocol() *protocol.Server { return a.server }

// Discovery exposes the catalog for embedding and the gRPC watch.
func (a *App) Discovery() *discovery.System { return a.discovery }

// Serve starts the configured transports and blocks until the context
// is cancelled or a transport fails. Teardown stops every child
// process and closes the cache.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.manager.Start(ctx, a.serverConfigs); err != nil {
		return fmt.Errorf("start external servers: %w", err)
	}
	if _, err := a.discovery.Refresh(ctx); err != nil {
		a.logger.Warn("initial catalog refresh failed", zap.Error(err))
	}

	errChan := make(chan error, 8)
	run := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if a.opts.WatchConfig && a.opts.ServersPath != "" {
		go a.manager.Watch(ctx, a.loader, a.opts.ServersPath)
	}
	if a.opts.MetricsAddr != "" {
		run("metrics", func() error {
			return telemetry.StartObservabilityServer(ctx, telemetry.ObservabilityOptions{
				Addr:     a.opts.MetricsAddr,
				Registry: a.registry,
			}, a.logger)
		})
	}
	if a.opts.HTTPAddr != "" {
		run("http", func() error {
			return transport.StartHTTPServer(ctx, a.opts.HTTPAddr, a.httpRoutes(), a.logger)
		})
	}
	if a.opts.GRPCAddr != "" {
		engine := rpc.NewEngine(rpc.EngineOptions{
			Server:    a.server,
			Discovery: a.discovery,
			Logger:    a.logger,
		})
		run("grpc", func() error {
			return rpc.Serve(ctx, rpc.NewServer(engine), a.opts.GRPCAddr, a.logger)
		})
	}
	if a.opts.Stdio {
		run("stdio", func() error {
			err := transport.ServeStdio(ctx, a.server, stdin(), stdout(), a.logger)
			// stdin closing means the client is gone; wind the engine
			// down rather than idling headless.
			cancel()
			return err
		})
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errChan:
		cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer stopCancel()
	if err := a.manager.StopAll(stopCtx); err != nil {
		a.logger.Warn("external server teardown incomplete", zap.Error(err))
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// httpRoutes mounts every HTTP-carried surface on one listener: plain
// JSON-RPC posts, the SSE stream pair, the WebSocket upgrade, and the
// health probe.
func (a *App) httpRoutes() http.Handler {
	mux := http.NewServeMux()
	httpHandler := transport.NewHTTPHandler(a.server, a.logger)
	sseHandler := transport.NewSSEHandler(a.server, a.logger)
	wsHandler := transport.NewWSHandler(a.server, a.logger)

	mux.Handle("/", httpHandler.Routes())
	mux.Handle("/sse", sseHandler.Routes())
	mux.Handle("/message", sseHandler.Routes())
	mux.Handle("/ws", wsHandler)
	return mux
}

// ValidateConfig checks a server config file without starting anything.
func ValidateConfig(path string, logger *zap.Logger) error {
	return extproc.NewLoader(logger).Validate(path)
}
