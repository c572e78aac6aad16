package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/dental-consult-booking/internal/appointment"
	"github.com/hackgods/dental-consult-booking/internal/config"
	"github.com/hackgods/dental-consult-booking/internal/db"
	"github.com/hackgods/dental-consult-booking/internal/logx"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("completion-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Backend != config.BackendPostgres {
		log.Fatalf("completion-worker needs STORE_BACKEND=postgres, got %s", cfg.Backend)
	}

	logger := logx.NewLogger("completion-worker", cfg.Env)
	logger.Info("running completion worker", "env", cfg.Env, "interval", cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, nil,
		appointment.WithLocation(cfg.Location()),
		appointment.WithLogger(logger),
	)

	// Run once at startup
	runOnce(rootCtx, logger, svc, repo)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, svc, repo)
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, svc *appointment.Service, repo *appointment.PgRepository) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompleteEnded(runCtx, repo)
	if err != nil {
		logger.Error("completion run error", "err", err)
		return
	}
	logger.Info("completion run complete", "completed", n, "took", time.Since(start).String())
}
