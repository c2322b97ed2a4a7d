package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func required() map[string]string {
	return map[string]string{
		"DATABASE_URL":        "postgres://u:p@localhost:5432/payments?sslmode=disable",
		"SQUARE_ACCESS_TOKEN": "token",
		"SQUARE_LOCATION_ID":  "L123",
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: required()})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sandbox", cfg.Square.Environment)
	assert.Equal(t, 15*time.Second, cfg.Square.Timeout)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
	assert.Equal(t, 10, cfg.RateLimit.IP)
	assert.Equal(t, 5, cfg.RateLimit.Email)
	assert.Equal(t, 3, cfg.RateLimit.Fingerprint)
	assert.Equal(t, 30*time.Second, cfg.Idempotency.StaleAfter)
	assert.Equal(t, time.Minute, cfg.Idempotency.Bucket)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "payment_completed", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestParse_MissingRequired(t *testing.T) {
	_, err := parse(env.Options{Environment: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestParse_Overrides(t *testing.T) {
	vars := required()
	vars["RATE_LIMIT_BACKEND"] = "redis"
	vars["REDIS_URL"] = "redis://localhost:6379/0"
	vars["KAFKA_BOOTSTRAP_SERVERS"] = `"localhost:9092"`
	vars["RETRY_BASE_DELAY"] = "250ms"

	cfg, err := parse(env.Options{Environment: vars})
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, "localhost:9092", cfg.Kafka.BootstrapServers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestValidate(t *testing.T) {
	vars := required()
	vars["RATE_LIMIT_BACKEND"] = "redis"
	vars["RETRY_MAX_ATTEMPTS"] = "0"
	vars["LOG_LEVEL"] = "chatty"

	_, err := parse(env.Options{Environment: vars})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
	assert.Contains(t, err.Error(), "RETRY_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "LOG_LEVEL")

	vars = required()
	vars["RATE_LIMIT_BACKEND"] = "memcached"
	_, err = parse(env.Options{Environment: vars})
	assert.ErrorContains(t, err, "unknown RATE_LIMIT_BACKEND")
}

func TestValidate_StaleAfterCoversAttempt(t *testing.T) {
	cfg, err := parse(env.Options{Environment: required()})
	require.NoError(t, err)
	assert.Equal(t, 17*time.Second, cfg.MaxUntouched())

	vars := required()
	vars["SQUARE_TIMEOUT"] = "25s"
	vars["RETRY_MAX_DELAY"] = "5s"
	vars["RETRY_BASE_DELAY"] = "5s"
	_, err = parse(env.Options{Environment: vars})
	assert.ErrorContains(t, err, "IDEMPOTENCY_STALE_AFTER")

	vars["IDEMPOTENCY_STALE_AFTER"] = "45s"
	_, err = parse(env.Options{Environment: vars})
	assert.NoError(t, err)

	vars = required()
	vars["RETRY_MAX_ATTEMPTS"] = "1"
	vars["SQUARE_TIMEOUT"] = "29s"
	cfg, err = parse(env.Options{Environment: vars})
	require.NoError(t, err)
	assert.Equal(t, 29*time.Second, cfg.MaxUntouched())
}

func TestMigrationDatabaseURL(t *testing.T) {
	c := &Config{DatabaseURL: "postgres://h/db", MigrationsTable: "payments_schema_migrations"}
	assert.Equal(t, "postgres://h/db?x-migrations-table=payments_schema_migrations", c.MigrationDatabaseURL())

	c.DatabaseURL = "postgres://h/db?sslmode=disable"
	assert.Equal(t, "postgres://h/db?sslmode=disable&x-migrations-table=payments_schema_migrations", c.MigrationDatabaseURL())
}
