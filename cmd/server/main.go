package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/example/job-tracking/internal/bus"
	"github.com/example/job-tracking/internal/config"
	"github.com/example/job-tracking/internal/dispatch"
	"github.com/example/job-tracking/internal/geo"
	httpapi "github.com/example/job-tracking/internal/http"
	"github.com/example/job-tracking/internal/ingest"
	"github.com/example/job-tracking/internal/jobs"
	"github.com/example/job-tracking/internal/logging"
	"github.com/example/job-tracking/internal/matcher"
	"github.com/example/job-tracking/internal/payments"
	"github.com/example/job-tracking/internal/relay"
	"github.com/example/job-tracking/internal/rooms"
	"github.com/example/job-tracking/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "listen address, overrides HTTP_ADDR")
	configFile := flag.String("config", "", "YAML config file, overrides CONFIG_FILE")
	flag.Parse()
	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	checks := map[string]httpapi.Check{}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if p, ok := store.(pinger); ok {
		checks["database"] = p.Ping
	}
	if cfg.SeedFile != "" {
		n, err := storage.LoadSeed(ctx, store, cfg.SeedFile)
		if err != nil {
			return err
		}
		logger.Info("seeded jobs", "count", n, "file", cfg.SeedFile)
	}

	var locations geo.LocationCache = geo.NewMemoryCache(cfg.LocationTTL)
	var drivers geo.DriverIndex = geo.NewMemoryIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		locations = geo.NewRedisCache(rc, cfg.RedisKeyPrefix, cfg.LocationTTL)
		drivers = geo.NewRedisGeo(rc, cfg.RedisDriverGeoKey)
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		logger.Info("using redis location cache", "addr", cfg.RedisAddr)
	}

	b := bus.New(rooms.NewManager(), logger)
	fleet := &matcher.Service{
		Index:   drivers,
		Notify:  b,
		RadiusM: cfg.DriverAlertRadiusKm * 1000,
		Limit:   cfg.DriverAlertLimit,
		Logger:  logger,
	}
	svc := &jobs.Service{
		Store:     store,
		Locations: locations,
		Bus:       b,
		Announcer: fleet,
		SpeedMps:  cfg.DefaultSpeedMps,
		Logger:    logger,
	}
	defer svc.Drain()
	var sinks jobs.MultiSink
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		sinks = append(sinks, kp)
		logger.Info("publishing tracking events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.StatusWebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.StatusWebhookURL))
	}
	if len(sinks) > 0 {
		svc.Sink = sinks
	}
	if cfg.StripeKey != "" {
		svc.Settler = payments.NewStripeSettler(cfg.StripeKey)
	}

	relayCfg := relay.DefaultConfig()
	relayCfg.SendQueue = cfg.RelaySendQueue
	srv := httpapi.NewServer(svc, relay.New(b, svc, fleet, logger, relayCfg), checks, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("job-tracking listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.JobStore, error) {
	switch {
	case cfg.PGDSN != "":
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close()
				return nil, err
			}
			logger.Info("migration applied", "file", "001_create_jobs.sql")
		}
		return ps, nil
	case cfg.SQLitePath != "":
		ss, err := storage.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite job store", "path", cfg.SQLitePath)
		return ss, nil
	}
	logger.Warn("no database configured, jobs are kept in memory")
	return storage.NewMemoryStore(), nil
}
