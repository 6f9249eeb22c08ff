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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/ingest"
	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/observability"
	"github.com/example/airbear/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total vehicle location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locationsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_locations_applied_total",
		Help: "Total location updates applied to the store",
	})
	applyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_apply_errors_total",
		Help: "Total location updates dropped after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationsApplied, applyErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	log := logging.NewLogger("airbear-consumer", cfg.LogLevel)
	if err := run(cfg, metricsAddr, log); err != nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ConsumerConfig, metricsAddr string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rc.Close()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	spots := geo.DefaultTable()
	applier := &ingest.Applier{
		Store:   store,
		Index:   geo.NewRedisIndex(rc, cfg.Redis.GeoKey, spots),
		Changes: dispatch.NewRedisRelay(rc, cfg.Redis.ChangesChannel, log),
		Log:     log,
	}

	go serveMetrics(metricsAddr, rc, log)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.Group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	log.Info("consumer listening", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers, "group", cfg.Kafka.Group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down consumer")
				return nil
			}
			log.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		u, err := ingest.DecodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			log.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if !u.ReportedAt.IsZero() {
			observability.ConsumerLag.Observe(time.Since(u.ReportedAt).Seconds())
		}
		if err := applyWithRetry(ctx, applier, u, cfg.ApplyAttempts, cfg.RetryDelay); err != nil {
			applyErrors.Inc()
			log.Error("location update dropped", "vehicle_id", u.VehicleID, "error", err)
			continue
		}
		locationsApplied.Inc()
	}
}

// openStore prefers Postgres. Without it the consumer still keeps the geo
// index and change feed current against an in-memory fleet.
func openStore(ctx context.Context, cfg config.ConsumerConfig, log *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN != "" {
		return storage.NewPostgresStore(cfg.PGDSN)
	}
	log.Warn("PG_DSN missing, applying locations to an in-memory demo fleet")
	ms := storage.NewMemoryStore()
	if err := storage.SeedDemo(ctx, ms, geo.DefaultTable(), 8); err != nil {
		return nil, err
	}
	return ms, nil
}

func serveMetrics(addr string, rc *redis.Client, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	log.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "error", err)
	}
}

// LocationApplier is the part of ingest.Applier the loop depends on.
type LocationApplier interface {
	Apply(ctx context.Context, u models.LocationUpdate) (models.Vehicle, error)
}

// applyWithRetry retries transient failures with doubling delay. An unknown
// vehicle is permanent and returned at once.
func applyWithRetry(ctx context.Context, a LocationApplier, u models.LocationUpdate, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = a.Apply(ctx, u); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || i == attempts-1 {
			return err
		}
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
