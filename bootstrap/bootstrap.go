// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/rpcspec/adapters/clock"
	apihttp "github.com/artpar/rpcspec/adapters/http"
	"github.com/artpar/rpcspec/adapters/idgen"
	"github.com/artpar/rpcspec/adapters/memory"
	"github.com/artpar/rpcspec/adapters/metrics"
	"github.com/artpar/rpcspec/adapters/sqlite"
	"github.com/artpar/rpcspec/app"
	"github.com/artpar/rpcspec/config"
	"github.com/artpar/rpcspec/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 30 * time.Second

// App represents the running application.
type App struct {
	// Config is the configuration the app was built with.
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *sqlite.DB     // nil unless database.driver is sqlite
	Runs       ports.RunStore // nil when history is disabled
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	Checks     *app.CheckService
	HTTPServer *http.Server

	holder *config.Holder
}

// Options provides optional settings for application initialization.
type Options struct {
	Version string
	Output  io.Writer // log output, defaults to stderr

	// NoServer skips building the HTTP server, for one-shot commands.
	NoServer bool
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := NewLogger(cfg.Logging, opts.Output)
	logger.Info().Str("version", opts.Version).Msg("initializing rpcspec")

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	deps := app.CheckDeps{
		Runs:   a.Runs,
		Clock:  clock.Real{},
		IDGen:  idgen.TimeOrdered{},
		Logger: logger,
	}
	if a.Metrics != nil {
		deps.Observer = a.Metrics
	}
	a.Checks = app.NewCheckService(deps, CheckConfigFrom(cfg.Check))

	if !opts.NoServer {
		a.initHTTPServer(opts.Version)
	}
	return a, nil
}

// NewWithHolder creates the application from the holder's current configuration
// and applies reloadable settings whenever the holder reloads.
func NewWithHolder(h *config.Holder, opts Options) (*App, error) {
	a, err := New(h.Get(), opts)
	if err != nil {
		return nil, err
	}
	a.holder = h

	h.OnChange(a.applyConfig)
	if a.Metrics != nil {
		h.OnReload(a.Metrics.ConfigReloaded)
	}
	return a, nil
}

// CheckConfigFrom converts file configuration into service configuration.
func CheckConfigFrom(c config.CheckConfig) app.CheckConfig {
	return app.CheckConfig{
		StopOnFailure: !c.KeepGoing,
		Parallelism:   c.Parallelism,
		UniqueNames:   c.UniqueNames,
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.Checks.UpdateConfig(CheckConfigFrom(cfg.Check))
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
}

func (a *App) initStore() error {
	db := a.Config.Database
	switch db.Driver {
	case "sqlite":
		conn, err := sqlite.Open(db.DSN)
		if err != nil {
			return err
		}
		if err := conn.Migrate(context.Background()); err != nil {
			conn.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = conn
		a.Runs = sqlite.NewRunStore(conn)
		a.Logger.Info().Str("dsn", db.DSN).Msg("run history stored in sqlite")
	case "memory":
		a.Runs = memory.NewRunStore(db.HistoryLimit)
		a.Logger.Info().Int("limit", db.HistoryLimit).Msg("run history kept in memory")
	case "none", "":
		a.Logger.Info().Msg("run history disabled")
	default:
		return fmt.Errorf("unknown database driver %q", db.Driver)
	}
	return nil
}

func (a *App) initHTTPServer(version string) {
	srv := a.Config.Server

	var pinger apihttp.Pinger
	if a.DB != nil {
		pinger = a.DB
	}

	routerCfg := apihttp.RouterConfig{
		Version:        version,
		RequestTimeout: srv.RequestTimeout,
		RateLimit:      srv.RateLimit.RPS,
		RateBurst:      srv.RateLimit.Burst,
		Metrics:        a.Metrics,
	}
	if a.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
		routerCfg.MetricsPath = a.Config.Metrics.Path
	}

	router := apihttp.NewRouter(
		apihttp.NewCheckHandler(a.Checks, a.Runs, a.Logger, srv.MaxBodyBytes),
		apihttp.NewHealthHandler(pinger),
		a.Logger,
		routerCfg,
	)

	a.HTTPServer = &http.Server{
		Addr:         srv.Addr(),
		Handler:      router,
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
	}
	a.Logger.Info().Str("addr", srv.Addr()).Msg("http server configured")
}

// Run starts the HTTP server and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve starts the HTTP server and blocks until ctx is done or the server fails.
// Config file watching starts here when the app was built with a holder.
func (a *App) Serve(ctx context.Context) error {
	if a.HTTPServer == nil {
		return errors.New("app was built without an http server")
	}
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watching disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			errs = append(errs, err)
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// NewLogger builds the process logger and sets the global level.
// An unknown level falls back to info.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
