package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/stash/internal/config"
	"github.com/eteran/stash/internal/core"
	"github.com/eteran/stash/pkg/auth"
	"github.com/eteran/stash/pkg/metrics"
)

// newLogger builds the charmbracelet handler used as the slog default.
func newLogger(cfg config.LoggingConfig) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	formatter := log.TextFormatter
	if cfg.Format == "json" {
		formatter = log.JSONFormatter
	}

	return log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		Formatter:       formatter,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    level == log.DebugLevel,
	}), nil
}

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML, TOML or JSON configuration file")
	listen := flag.String("listen", "", "HTTP listen address, overrides server.listen")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	handler, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(handler))

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Type, err)
	}

	opts := []core.ConfigOption{
		core.WithStore(store),
		core.WithAuthEngine(auth.NewBasicAuthEngine(cfg.Auth.Username, cfg.Auth.Password)),
		core.WithPageSize(cfg.Storage.PageSize),
		core.WithRealm(cfg.Auth.Realm),
		core.WithAllowOrigin(cfg.Cors.AllowOrigin),
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, core.WithMetrics(metrics.New(reg)))
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, reg)
	}

	server, err := core.NewServer(core.NewConfig(opts...))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create stash server: %w", err)
	}

	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	eg, ctx := errgroup.WithContext(ctx)

	shutdown := func(srv *http.Server) error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}

	serve := func(name string, srv *http.Server) error {
		slog.Info("Starting "+name+" server", "addr", srv.Addr)
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	}

	eg.Go(func() error {
		return shutdown(httpServer)
	})

	eg.Go(func() error {
		return serve("Stash WebDAV", httpServer)
	})

	if metricsServer != nil {
		eg.Go(func() error {
			return shutdown(metricsServer)
		})

		eg.Go(func() error {
			return serve("metrics", metricsServer)
		})
	}

	slog.Info("Stash Started", "storage", cfg.Storage.Type)
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := Run(ctx)
	stop()

	if err != nil {
		slog.Error("Stash exited with error", "error", err)
		os.Exit(1)
	}
}
