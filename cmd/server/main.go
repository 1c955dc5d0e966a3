package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/config"
	"github.com/hemosys/turn-queue/internal/database"
	"github.com/hemosys/turn-queue/internal/handler"
	"github.com/hemosys/turn-queue/internal/middleware"
	"github.com/hemosys/turn-queue/internal/queue"
	"github.com/hemosys/turn-queue/internal/repository"
	"github.com/hemosys/turn-queue/internal/router"
	"github.com/hemosys/turn-queue/internal/scheduler"
)

func main() {
	// Load .env when present; real deployments set env vars directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories
	turnRepo := repository.NewTurnRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	workerRepo := repository.NewWorkerRepo(db)
	cubicleRepo := repository.NewCubicleRepo(db)

	// Scheduler core; a nil clock means wall time.
	tracker := scheduler.NewTracker(sessionRepo, nil)
	manager := scheduler.NewHoldingManager(turnRepo, nil)
	broadcaster := scheduler.NewBroadcaster(turnRepo, tracker, nil)
	reaper := scheduler.NewReaper(turnRepo, sessionRepo, nil)

	// Background reaper pass; the on-read passes in the handlers cover
	// the common case, this covers idle periods.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx, time.Duration(cfg.ReapIntervalSec)*time.Second)

	// Attention feed consumer (waiting-room display log).
	go func() {
		if err := queue.StartAttentionConsumer(); err != nil {
			log.Printf("attention consumer stopped: %v", err)
		}
	}()

	// Redis-backed middleware for the polling endpoints.  A nil client
	// degrades both to no-ops.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting and board cache disabled")
	}
	rateLimit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	boardCache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// Handlers
	turnHandler := handler.NewTurnHandler(turnRepo)
	queueHandler := handler.NewQueueHandler(manager, broadcaster, tracker, reaper, cubicleRepo)
	attentionHandler := handler.NewAttentionHandler(turnRepo, workerRepo, cubicleRepo, manager)
	sessionHandler := handler.NewSessionHandler(sessionRepo, time.Duration(cfg.SessionTTLHours)*time.Hour)
	workerHandler := handler.NewWorkerHandler(workerRepo, cfg.BcryptCost)
	cubicleHandler := handler.NewCubicleHandler(cubicleRepo)

	e := echo.New()
	router.RegisterRoutes(e, turnHandler, boardCache)
	router.RegisterQueue(e, queueHandler, attentionHandler, sessionHandler, cfg.JWTSecret, rateLimit)
	router.RegisterAdmin(e, workerHandler, cubicleHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
