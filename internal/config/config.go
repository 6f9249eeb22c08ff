package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/example/airbear/internal/fare"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from the environment (optionally seeded from a .env
// file) with defaults that let the binary run locally with every external
// collaborator in mock mode.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Redis RedisConfig
	Kafka KafkaConfig

	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	Supabase SupabaseConfig
	Stripe   StripeConfig
	Fare     FareConfig

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type RedisConfig struct {
	Addr           string `env:"REDIS_ADDR"`
	Password       string `env:"REDIS_PASSWORD"`
	GeoKey         string `env:"REDIS_GEO_KEY" envDefault:"airbears_geo"`
	ChangesChannel string `env:"REDIS_CHANGES_CHANNEL" envDefault:"airbear:changes"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"airbear-locations"`
	Group   string   `env:"KAFKA_GROUP" envDefault:"airbear-location-consumer"`
}

type SupabaseConfig struct {
	URL            string `env:"SUPABASE_URL"`
	AnonKey        string `env:"SUPABASE_ANON_KEY"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret      string `env:"SUPABASE_JWT_SECRET"`
}

// AuthEnabled is false when credentials are missing or point at a mock
// project; the auth client then runs inert.
func (s SupabaseConfig) AuthEnabled() bool {
	return s.URL != "" && s.AnonKey != "" && !strings.Contains(s.URL, "mock")
}

type StripeConfig struct {
	SecretKey      string `env:"STRIPE_SECRET_KEY"`
	PublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	WebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency       string `env:"STRIPE_CURRENCY" envDefault:"usd"`
}

type FareConfig struct {
	Base            decimal.Decimal `env:"FARE_BASE" envDefault:"4.00"`
	PerKm           decimal.Decimal `env:"FARE_PER_KM" envDefault:"1.50"`
	AverageSpeedKmh float64         `env:"FARE_AVG_SPEED_KMH" envDefault:"15"`
	MinMinutes      int             `env:"FARE_MIN_MINUTES" envDefault:"2"`
	NearbyRadiusKm  float64         `env:"NEARBY_RADIUS_KM" envDefault:"5"`
}

func (f FareConfig) Estimator() fare.Estimator {
	return fare.Estimator{BaseFare: f.Base, PerKm: f.PerKm, AverageSpeedKmh: f.AverageSpeedKmh, MinMinutes: f.MinMinutes}
}

func (f FareConfig) validate() []error {
	var errs []error
	if f.Base.IsNegative() {
		errs = append(errs, fmt.Errorf("FARE_BASE must be >= 0"))
	}
	if f.PerKm.IsNegative() {
		errs = append(errs, fmt.Errorf("FARE_PER_KM must be >= 0"))
	}
	if f.AverageSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("FARE_AVG_SPEED_KMH must be > 0"))
	}
	if f.MinMinutes < 0 {
		errs = append(errs, fmt.Errorf("FARE_MIN_MINUTES must be >= 0"))
	}
	if f.NearbyRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_RADIUS_KM must be > 0"))
	}
	return errs
}

// LoadServerConfig reads .env (if present) and the process environment.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Kafka.Brokers = splitAndTrim(cfg.Kafka.Brokers)

	errs := cfg.Fare.validate()
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// ClientConfig configures the airbear CLI and client SDK.
type ClientConfig struct {
	APIURL   string `env:"AIRBEAR_API_URL" envDefault:"http://localhost:8080"`
	Supabase SupabaseConfig
	Fare     FareConfig
	Currency string `env:"STRIPE_CURRENCY" envDefault:"usd"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
}

func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return cfg, errors.Join(cfg.Fare.validate()...)
}

func splitAndTrim(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ConsumerConfig configures the location consumer. Unlike the API it always
// needs Kafka and Redis, so both default to local instances.
type ConsumerConfig struct {
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":2112"`

	Redis RedisConfig
	Kafka KafkaConfig
	PGDSN string `env:"PG_DSN"`

	ApplyAttempts int           `env:"CONSUMER_APPLY_ATTEMPTS" envDefault:"3"`
	RetryDelay    time.Duration `env:"CONSUMER_RETRY_DELAY" envDefault:"200ms"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	_ = godotenv.Load()
	var cfg ConsumerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Kafka.Brokers = splitAndTrim(cfg.Kafka.Brokers)
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.ApplyAttempts < 1 {
		return cfg, fmt.Errorf("CONSUMER_APPLY_ATTEMPTS must be >= 1")
	}
	return cfg, nil
}
