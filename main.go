package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collection-payments/internal/config"
	"collection-payments/internal/consumer"
	"collection-payments/internal/dispatcher"
	"collection-payments/internal/handler"
	"collection-payments/internal/idempotency"
	"collection-payments/internal/processor"
	"collection-payments/internal/ratelimit"
	"collection-payments/internal/repository"
	"collection-payments/internal/sender"
	"collection-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	notifyTimeout   = 60 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.Info("Starting collection payments service...")

	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	m, err := migrate.New(cfg.MigrationsPath, cfg.MigrationDatabaseURL())
	if err != nil {
		log.WithError(err).Fatal("Could not create migration instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.WithError(err).Fatal("Could not apply migration")
	}
	log.Info("Database migration successfully applied")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()

	limiter := newLimiter(cfg.RateLimit)
	ledger := idempotency.NewLedger(
		repository.NewPostgresIdempotencyRepository(db),
		cfg.Idempotency.Bucket,
		cfg.Idempotency.StaleAfter,
	)
	log.WithFields(log.Fields{
		"bucket":      cfg.Idempotency.Bucket,
		"stale_after": ledger.StaleAfter(),
		"limiter":     cfg.RateLimit.Backend,
	}).Info("Idempotency ledger configured")
	square := processor.NewSquareClient(
		cfg.Square.AccessToken,
		cfg.Square.LocationID,
		cfg.Square.Environment,
		cfg.Square.BaseURL,
		cfg.Square.Timeout,
	)
	policy := cfg.Retry.Policy()

	notificationService := service.NewNotificationService(
		sender.NewSMTPEmailSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From),
		repository.NewPostgresNotificationRepository(db),
		policy,
	)
	completedHandler := handler.NewPaymentCompletedHandler(notificationService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deliver := dispatcher.Handler(completedHandler.Process)
	var consumerDone chan struct{}
	if cfg.Kafka.Enabled() {
		log.WithField("kafka_servers", cfg.Kafka.BootstrapServers).Info("Connecting to Kafka")
		publisher, err := dispatcher.NewKafkaPublisher(cfg.Kafka.BootstrapServers, cfg.Kafka.Topic)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer publisher.Close()
		deliver = publisher.Publish

		kc, err := consumer.NewKafkaConsumer(cfg.Kafka.BootstrapServers, cfg.Kafka.GroupID, cfg.Kafka.Topic, completedHandler)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka consumer")
		}
		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			defer kc.Close()
			if err := kc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Kafka consumer stopped")
			}
		}()
	} else {
		log.Info("KAFKA_BOOTSTRAP_SERVERS not set, delivering notifications in-process")
	}
	background := dispatcher.NewBackground(deliver, cfg.Notify.Workers, cfg.Notify.QueueSize, notifyTimeout)

	payments := service.NewPaymentService(
		service.PaymentConfig{
			Currency:   cfg.Currency,
			AdminEmail: cfg.AdminEmail,
			Limits: service.Limits{
				IP:          cfg.RateLimit.IP,
				Email:       cfg.RateLimit.Email,
				Fingerprint: cfg.RateLimit.Fingerprint,
			},
			Retry: policy,
		},
		limiter,
		ledger,
		square,
		repository.NewPostgresChargeRepository(db),
		repository.NewPostgresCollectionRepository(db),
		background,
	)

	if level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger())
	handler.NewPaymentHandler(payments).Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
	}

	// Drain queued notifications before the producer and consumer go away.
	background.Close()
	if consumerDone != nil {
		<-consumerDone
	}
	log.Info("Collection payments service stopped")
}

func newLimiter(cfg config.RateLimit) ratelimit.Limiter {
	if cfg.Backend != config.BackendRedis {
		return ratelimit.NewMemoryLimiter(ratelimit.PaymentWindow, cfg.CacheSize)
	}

	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("Invalid REDIS_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable at startup, rate limiting will fail open")
	}
	return ratelimit.NewRedisLimiter(client, ratelimit.PaymentWindow)
}
