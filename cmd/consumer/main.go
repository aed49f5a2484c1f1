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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	flag "github.com/spf13/pflag"

	"github.com/example/job-tracking/internal/config"
	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/logging"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total tracking messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locationWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_writes_total",
		Help: "Total driver locations persisted to the job store",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total job store errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationWrites, storeErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr, group string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&group, "group", envOr("KAFKA_GROUP", "job-tracking-consumer"), "kafka consumer group")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("open job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", group)
	consume(ctx, r, store, logger)
	logger.Info("shutting down consumer")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, store LocationWriter, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := events.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "key", string(m.Key), "error", err)
			continue
		}
		u, ok := ev.(events.LocationUpdate)
		if !ok {
			// status changes are persisted by the server before they are published
			continue
		}
		if err := persistWithRetry(ctx, store, u.Sample(), 3, 200*time.Millisecond); err != nil {
			storeErrors.Inc()
			logger.Warn("location write failed", "job_id", u.JobID, "error", err)
			continue
		}
		locationWrites.Inc()
	}
}

// LocationWriter is the part of the job store the consumer needs.
type LocationWriter interface {
	UpdateDriverLocation(ctx context.Context, s models.LocationSample) error
}

// persistWithRetry writes the sample with retry/backoff. A missing job is not
// retried.
func persistWithRetry(ctx context.Context, w LocationWriter, s models.LocationSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.UpdateDriverLocation(ctx, s); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || i == attempts-1 {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func openStore(ctx context.Context, cfg config.ServerConfig) (storage.JobStore, error) {
	switch {
	case cfg.PGDSN != "":
		return storage.NewPostgresStore(ctx, cfg.PGDSN)
	case cfg.SQLitePath != "":
		return storage.NewSQLiteStore(ctx, cfg.SQLitePath)
	}
	return nil, errors.New("PG_DSN or SQLITE_PATH is required")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
