package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meridianfs/compliance/api"
	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/config"
	"github.com/meridianfs/compliance/internal/database"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/regulatory"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/internal/scheduler"
	"github.com/meridianfs/compliance/internal/velocity"
	"github.com/meridianfs/compliance/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("MERIDIAN_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("failed to migrate schema", zap.Error(err))
	}

	var cache *velocity.Cache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = velocity.New(rdb, 48*time.Hour, zapLogger)
	}

	clk := clock.System()
	auditor, err := audit.NewService(db, clk, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create audit service", zap.Error(err))
	}

	deliveries := regulatory.NewDeliveryStore(db)
	fincrime := &regulatory.LogReporter{Target: regulatory.TargetFinCrime, Logger: zapLogger}
	breach := &regulatory.LogReporter{Target: regulatory.TargetBreach, Logger: zapLogger}
	notifier := &regulatory.LogNotifier{Logger: zapLogger}

	alertSvc, err := alerts.NewService(db, auditor, deliveries, fincrime, clk, zapLogger, cfg.Scheduler.SubmissionTimeout)
	if err != nil {
		zapLogger.Fatal("failed to create alert service", zap.Error(err))
	}
	riskSvc, err := risk.NewService(db, cfg.Risk, auditor, alertSvc, cache, clk, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create risk service", zap.Error(err))
	}
	incidentSvc, err := incidents.NewService(db, cfg.Incidents, auditor, deliveries, clk, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create incident service", zap.Error(err))
	}
	sched, err := scheduler.New(db, cfg.Scheduler, alertSvc, incidentSvc, deliveries, fincrime, breach, notifier, clk, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create scheduler", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	server := api.NewServer(riskSvc, alertSvc, incidentSvc, auditor, sched, clk, zapLogger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}
	go func() {
		zapLogger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http shutdown failed", zap.Error(err))
	}
}
