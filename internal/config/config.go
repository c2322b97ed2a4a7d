package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"collection-payments/internal/retry"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL     string `env:"DATABASE_URL,required"`
	MigrationsPath  string `env:"MIGRATIONS_PATH" envDefault:"file://db/migrations"`
	MigrationsTable string `env:"MIGRATIONS_TABLE" envDefault:"payments_schema_migrations"`

	Square Square

	Currency   string `env:"CURRENCY" envDefault:"USD"`
	AdminEmail string `env:"ADMIN_EMAIL"`

	RateLimit   RateLimit
	Idempotency Idempotency
	Retry       Retry
	Kafka       Kafka
	Notify      Notify
	SMTP        SMTP
}

type Square struct {
	AccessToken string        `env:"SQUARE_ACCESS_TOKEN,required"`
	LocationID  string        `env:"SQUARE_LOCATION_ID,required"`
	Environment string        `env:"SQUARE_ENVIRONMENT" envDefault:"sandbox"`
	BaseURL     string        `env:"SQUARE_BASE_URL"`
	Timeout     time.Duration `env:"SQUARE_TIMEOUT" envDefault:"15s"`
}

type RateLimit struct {
	Backend     string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisURL    string `env:"REDIS_URL"`
	CacheSize   int    `env:"RATE_LIMIT_CACHE_SIZE" envDefault:"10000"`
	IP          int    `env:"RATE_LIMIT_IP" envDefault:"10"`
	Email       int    `env:"RATE_LIMIT_EMAIL" envDefault:"5"`
	Fingerprint int    `env:"RATE_LIMIT_FINGERPRINT" envDefault:"3"`
}

type Idempotency struct {
	StaleAfter time.Duration `env:"IDEMPOTENCY_STALE_AFTER" envDefault:"30s"`
	Bucket     time.Duration `env:"IDEMPOTENCY_BUCKET" envDefault:"60s"`
}

type Retry struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	Multiplier  float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
}

func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
	}
}

// MaxUntouched is the longest a held idempotency key can go without its
// updated_at being refreshed: one processor call plus the longest backoff
// before the next attempt refreshes it.
func (c *Config) MaxUntouched() time.Duration {
	p := c.Retry.Policy()
	var longest time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		if d := p.Delay(attempt); d > longest {
			longest = d
		}
	}
	return c.Square.Timeout + longest
}

type Kafka struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic            string `env:"KAFKA_TOPIC" envDefault:"payment_completed"`
	GroupID          string `env:"KAFKA_GROUP_ID" envDefault:"payment_notification_group"`
}

// Enabled reports whether notifications go through a broker.
func (k Kafka) Enabled() bool {
	return k.BootstrapServers != ""
}

type Notify struct {
	Workers   int `env:"NOTIFY_WORKERS" envDefault:"2"`
	QueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"100"`
}

type SMTP struct {
	Host     string `env:"SMTP_HOST"`
	Port     string `env:"SMTP_PORT"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM"`
}

// Load reads an optional .env file, then the process environment.
func Load(dotenvPaths ...string) (*Config, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, p := range dotenvPaths {
		if err := godotenv.Load(p); err == nil {
			log.WithField("path", p).Debug("Loaded .env file")
		}
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Kafka.BootstrapServers = strings.Trim(cfg.Kafka.BootstrapServers, "\"")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when RATE_LIMIT_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Idempotency.Bucket <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_BUCKET must be positive"))
	}
	if c.Idempotency.StaleAfter <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_STALE_AFTER must be positive"))
	} else if c.Retry.MaxAttempts >= 1 && c.Idempotency.StaleAfter <= c.MaxUntouched() {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_STALE_AFTER (%s) must exceed SQUARE_TIMEOUT plus the longest retry delay (%s)",
			c.Idempotency.StaleAfter, c.MaxUntouched()))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// MigrationDatabaseURL points golang-migrate at a dedicated migrations table.
func (c *Config) MigrationDatabaseURL() string {
	sep := "?"
	if strings.Contains(c.DatabaseURL, "?") {
		sep = "&"
	}
	return c.DatabaseURL + sep + "x-migrations-table=" + c.MigrationsTable
}
