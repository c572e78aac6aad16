package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/dental-consult-booking/internal/api"
	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/auth"
	"github.com/hackgods/dental-consult-booking/internal/config"
	"github.com/hackgods/dental-consult-booking/internal/db"
	"github.com/hackgods/dental-consult-booking/internal/events"
	"github.com/hackgods/dental-consult-booking/internal/logx"
	"github.com/hackgods/dental-consult-booking/internal/payment"
	redisclient "github.com/hackgods/dental-consult-booking/internal/redis"
	"github.com/hackgods/dental-consult-booking/internal/supabase"
	"github.com/hackgods/dental-consult-booking/internal/telemetry"
	"github.com/hackgods/dental-consult-booking/internal/video"
)

const serviceName = "booking-api"

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logx.NewLogger(serviceName, cfg.Env)
	logger.Info("config loaded", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.Backend, "timezone", cfg.Timezone)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTel.Enabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTel.Endpoint,
		SampleRatio:  cfg.OTel.SamplingRatio,
	})
	if err != nil {
		log.Fatalf("telemetry setup error: %v", err)
	}

	var checks []api.Check
	var repo appointment.Repository

	switch cfg.Backend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			log.Fatalf("postgres connection error: %v", err)
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Fn: db.ReadyCheck(pgPool)})

	case config.BackendSupabase:
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey)
		if err != nil {
			log.Fatalf("supabase client error: %v", err)
		}
		store := supabase.NewStore(client, supabase.Options{
			Table:          cfg.Supabase.AppointmentsTable,
			LegacyNameJoin: cfg.Supabase.LegacyNameJoin,
		})
		if cfg.Supabase.LegacyNameJoin {
			logger.Warn("supabase store is joining bookings on dentist name")
		}
		repo = store
		checks = append(checks, api.Check{Name: "supabase", Critical: true, Fn: store.Ping})

	default:
		logger.Warn("using in-memory store, bookings are lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	// Attempt guard: Redis when configured so retries through any instance see the
	// same in-flight flag, otherwise per process.
	var guard redisclient.Guard
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(rootCtx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatalf("redis connection error: %v", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("error closing redis", "err", err)
			}
		}()
		logger.Info("connected to Redis")

		guard = redisclient.NewRedisAttemptGuard(rdb, cfg.GuardTTL)
		checks = append(checks, api.Check{Name: "redis", Fn: redisclient.ReadyCheck(rdb)})
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.Kafka.Brokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("kafka publisher error: %v", err)
		}
		publisher = kp
		checks = append(checks, api.Check{Name: "kafka", Fn: events.ReadyCheck(cfg.Kafka.Brokers)})
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is empty, every commit will be unauthenticated")
	}
	sessions := auth.NewJWTSessions(cfg.Auth.JWTSecret)

	svc := appointment.NewService(repo, sessions, guard,
		appointment.WithLocation(cfg.Location()),
		appointment.WithPublisher(publisher),
		appointment.WithLogger(logger),
	)

	payments := payment.NewStripeService(cfg.Payment.StripeSecretKey, cfg.Payment.Currency, payment.Fees{
		Appointment: cfg.Payment.AppointmentFee,
		Additional:  cfg.Payment.AdditionalFee,
	}, logger)
	videoTokens := video.NewTokens(cfg.Stream.APIKey, cfg.Stream.APISecret, time.Hour)

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Sessions:    sessions,
		Payments:    payments,
		Video:       videoTokens,
		Checks:      checks,
		Logger:      logger,
		BookingDays: cfg.BookingDays,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "err", err)
	}

	log.Println("api-server stopped")
}
