// Package main runs the acquisition service: HTTP API, live feed and event
// publishing on top of the acquisition coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"property-acquisition/internal/acquisition"
	"property-acquisition/internal/adapters"
	"property-acquisition/internal/adapters/stub"
	"property-acquisition/internal/adapters/vivareal"
	"property-acquisition/internal/adapters/zap"
	"property-acquisition/internal/api"
	"property-acquisition/internal/cache"
	"property-acquisition/internal/config"
	"property-acquisition/internal/events"
	"property-acquisition/internal/logging"
	"property-acquisition/internal/ratelimit"
	"property-acquisition/internal/resilience"
	"property-acquisition/internal/storage"
	chstore "property-acquisition/internal/storage/clickhouse"
	"property-acquisition/internal/storage/memory"
	"property-acquisition/internal/storage/migrations"
	pgstore "property-acquisition/internal/storage/postgres"
	"property-acquisition/internal/validation"
)

// stores bundles the storage implementations behind the coordinator and API.
type stores struct {
	properties storage.PropertyStore
	runs       storage.RunStore
	snapshots  storage.PriceSnapshotStore
}

func main() {
	envFile := flag.String("env-file", "", "Path to .env file (default: ./.env if present)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	useStub := flag.Bool("use-stub", false, "Serve deterministic stub listings instead of scraping")
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.Parse()

	var envPaths []string
	if *envFile != "" {
		envPaths = append(envPaths, *envFile)
	}
	if *useMemory {
		os.Setenv("USE_MEMORY", "true")
	}
	cfg, err := config.Load(envPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, closeLogging := setupLogging(cfg)
	defer closeLogging()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *useStub); err != nil {
		logger.Error("server failed", "error", err)
		closeLogging()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger, useStub bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanupStores, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanupStores()

	sources, err := createSources(cfg, logger, useStub)
	if err != nil {
		return fmt.Errorf("create sources: %w", err)
	}

	guard, err := createGuard(cfg)
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	hub := events.NewHub(nil, logger)
	sinks := []events.Sink{hub}
	if cfg.AMQP.URL != "" {
		publisher, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: "property",
		})
		if err != nil {
			// The broker is optional; the live feed still works without it.
			logger.Warn("amqp publisher disabled", "error", err)
		} else {
			sinks = append(sinks, publisher)
		}
	}

	coord := acquisition.New(acquisition.Options{
		Sources:           sources,
		Store:             st.properties,
		Cache:             cache.NewMemory(nil),
		Runs:              st.runs,
		Snapshots:         st.snapshots,
		Events:            events.Multi(logger, sinks...),
		Logger:            logger,
		AcquireTimeout:    cfg.Acquisition.Timeout,
		FastSourceTimeout: cfg.Acquisition.FastSourceTimeout,
		CacheTTL:          cfg.Acquisition.CacheTTL,
		FastCacheTTL:      cfg.Acquisition.FastCacheTTL,
	})
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Error("coordinator close", "error", err)
		}
	}()

	trusted, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	srv := api.NewServer(api.Config{Addr: cfg.HTTPAddr, TrustedProxies: trusted}, api.Deps{
		Coordinator: coord,
		Properties:  st.properties,
		Snapshots:   st.snapshots,
		Guard:       guard,
		Stream:      http.HandlerFunc(hub.ServeWS),
		Logger:      logger,
	})

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()

		// A second signal or a stuck shutdown forces the exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-time.After(cfg.ShutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", "timeout", cfg.ShutdownTimeout)
			os.Exit(1)
		case <-done:
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("service started",
		"app", cfg.AppName,
		"addr", cfg.HTTPAddr,
		"sources", coord.SourceNames(),
		"memory", cfg.UseMemory)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return nil
}

// setupLogging builds the stdout logger and, when enabled, tees it to Fluent Bit.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	base := logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
	}
	if !cfg.Fluent.Enabled {
		return logging.New(base).With("app", cfg.AppName), func() {}
	}

	client, err := logging.NewFluentClient(logging.FluentConfig{
		Host:      cfg.Fluent.Host,
		Port:      cfg.Fluent.Port,
		TagPrefix: cfg.AppName,
	})
	if err != nil {
		logger := logging.New(base).With("app", cfg.AppName)
		logger.Warn("fluent logging disabled", "error", err)
		return logger, func() {}
	}
	fluentHandler := logging.NewFluentHandler(client, logging.ParseLevel(cfg.Fluent.Level))
	logger := logging.New(base, fluentHandler).With("app", cfg.AppName)
	return logger, func() { _ = client.Close() }
}

// createStores returns memory stores, or PostgreSQL for listings and
// ClickHouse for analytics after applying migrations.
func createStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, func(), error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return &stores{
			properties: memory.NewPropertyStore(),
			runs:       memory.NewRunStore(),
			snapshots:  memory.NewPriceSnapshotStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	st := &stores{
		properties: pgstore.NewPropertyStore(pool),
		runs:       chstore.NewRunStore(chConn),
		snapshots:  chstore.NewPriceSnapshotStore(chConn),
	}
	cleanup := func() {
		if err := chConn.Close(); err != nil {
			logger.Error("close clickhouse", "error", err)
		}
		pool.Close()
	}
	return st, cleanup, nil
}

// createSources builds the configured sources. The ZAP fast variant is
// always added next to the full ZAP source.
func createSources(cfg *config.Config, logger *slog.Logger, useStub bool) ([]adapters.Source, error) {
	if useStub {
		logger.Info("using stub sources")
		return []adapters.Source{
			stub.New("stub", stub.WithRecords(stub.Listings("stub", "São Paulo", 20)...)),
			stub.New("stub_fast", stub.WithFast(), stub.WithRecords(stub.Listings("stub_fast", "São Paulo", 8)...)),
		}, nil
	}

	validator, err := validation.NewRecordValidator()
	if err != nil {
		return nil, fmt.Errorf("record validator: %w", err)
	}
	var clientOpts []resilience.ClientOption
	if cfg.Acquisition.HostRate > 0 {
		clientOpts = append(clientOpts, resilience.WithHostRate(cfg.Acquisition.HostRate, 1))
	}

	var sources []adapters.Source
	for _, name := range cfg.Acquisition.Sources {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case zap.Name:
			opts := zap.Options{
				BaseURL:       cfg.Acquisition.ZapBaseURL,
				Logger:        logger,
				Validator:     validator,
				ClientOptions: clientOpts,
			}
			sources = append(sources, zap.New(opts), zap.NewFast(opts))
		case vivareal.Name:
			sources = append(sources, vivareal.New(vivareal.Options{
				BaseURL:       cfg.Acquisition.VivaRealBaseURL,
				Logger:        logger,
				Validator:     validator,
				ClientOptions: clientOpts,
			}))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, errors.New("no sources configured")
	}
	return sources, nil
}

func createGuard(cfg *config.Config) (*ratelimit.Guard, error) {
	if cfg.RateLimitConfig == "" {
		return ratelimit.NewDefaultGuard(ratelimit.SystemClock), nil
	}
	return ratelimit.LoadFile(cfg.RateLimitConfig, ratelimit.SystemClock)
}
