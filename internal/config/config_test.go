package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsRunEverythingInMockMode(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.PGDSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Supabase.AuthEnabled())
	assert.Empty(t, cfg.Stripe.SecretKey)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, "4", cfg.Fare.Base.String())
	assert.Equal(t, 5.0, cfg.Fare.NearbyRadiusKm)
}

func TestOverridesFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("FARE_BASE", "2.50")
	t.Setenv("FARE_PER_KM", "0.75")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Supabase.AuthEnabled())

	est := cfg.Fare.Estimator()
	assert.Equal(t, "2.50", est.Fare(0).StringFixed(2))
	assert.Equal(t, "3.25", est.Fare(1).StringFixed(2))
}

func TestMockSupabaseURLStaysInert(t *testing.T) {
	s := SupabaseConfig{URL: "https://mock.supabase.local", AnonKey: "x"}
	assert.False(t, s.AuthEnabled())
}

func TestInvalidValuesAreJoined(t *testing.T) {
	t.Setenv("FARE_AVG_SPEED_KMH", "0")
	t.Setenv("NEARBY_RADIUS_KM", "-1")
	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FARE_AVG_SPEED_KMH")
	assert.Contains(t, err.Error(), "NEARBY_RADIUS_KM")
}

func TestUnparseableDuration(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestClientConfigTrimsURL(t *testing.T) {
	t.Setenv("AIRBEAR_API_URL", "https://api.airbear.me/")
	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.airbear.me", cfg.APIURL)
}

func TestConsumerDefaultsToLocalInfra(t *testing.T) {
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "airbear-locations", cfg.Kafka.Topic)
	assert.Equal(t, 3, cfg.ApplyAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryDelay)

	t.Setenv("CONSUMER_APPLY_ATTEMPTS", "0")
	_, err = LoadConsumerConfig()
	assert.Error(t, err)
}
