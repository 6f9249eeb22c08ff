package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/airbear/internal/auth"
	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/ingest"
	"github.com/example/airbear/internal/payments"
	"github.com/example/airbear/internal/storage"
	"github.com/example/airbear/internal/supabase"
)

const demoVehicles = 8

// App is the API server plus the background pieces it needs.
type App struct {
	Server  *Server
	relay   *dispatch.RedisRelay
	closers []func() error
	log     *slog.Logger
}

// NewServerFromConfig wires collaborators from config. Anything without
// credentials falls back to an in-process or mock implementation.
func NewServerFromConfig(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (*App, error) {
	app := &App{log: log}
	spots := geo.DefaultTable()
	verifier := auth.NewVerifier(cfg.Supabase.JWTSecret)
	if !verifier.Enabled() {
		log.Warn("SUPABASE_JWT_SECRET missing, role-gated routes are closed")
	}
	hub := dispatch.NewHub(verifier, log)
	app.closers = append(app.closers, func() error { hub.Close(); return nil })

	deps := Deps{
		Spots:    spots,
		Fare:     cfg.Fare.Estimator(),
		RadiusKm: cfg.Fare.NearbyRadiusKm,
		Payments: payments.NewStripeClient(cfg.Stripe, log),
		Auth:     supabase.NewAuthClient(cfg.Supabase, nil, log),
		Verifier: verifier,
		Hub:      hub,
		Logger:   log,
	}

	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		app.closers = append(app.closers, rc.Close)
		deps.Geo = geo.NewRedisIndex(rc, cfg.Redis.GeoKey, spots)
		deps.Idempotency = storage.NewRedisIdempotency(rc, "")
		app.relay = dispatch.NewRedisRelay(rc, cfg.Redis.ChangesChannel, log)
		deps.Changes = app.relay
	} else {
		deps.Geo = geo.NewMemoryIndex(spots)
		deps.Idempotency = storage.NewMemoryIdempotency()
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, ps.Close)
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx, cfg.MigrationsDir); err != nil {
				_ = app.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", "dir", cfg.MigrationsDir)
		}
		deps.Store = ps
	} else {
		ms := storage.NewMemoryStore()
		if err := storage.SeedDemo(ctx, ms, spots, demoVehicles); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		log.Warn("PG_DSN missing, using in-memory store with demo data")
		deps.Store = ms
	}
	if err := indexVehicles(ctx, deps.Store, deps.Geo); err != nil {
		log.Warn("initial geo index load failed", "error", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		app.closers = append(app.closers, kp.Close)
		deps.Locations = kp
	}

	app.Server = NewServer(deps)
	return app, nil
}

func indexVehicles(ctx context.Context, store storage.VehicleStore, idx geo.Index) error {
	vs, err := store.ListVehicles(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, v := range vs {
		if err := idx.Upsert(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run relays changes from Redis into the hub until ctx ends. It returns at
// once when no relay is configured.
func (a *App) Run(ctx context.Context) error {
	if a.relay == nil {
		return nil
	}
	return a.relay.Run(ctx, a.Server.Hub(), nil)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
