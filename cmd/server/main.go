package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RichardoC/scout/internal/agent"
	"github.com/RichardoC/scout/internal/api"
	"github.com/RichardoC/scout/internal/config"
	"github.com/RichardoC/scout/internal/db"
	"github.com/RichardoC/scout/internal/events"
	"github.com/RichardoC/scout/internal/lease"
	"github.com/RichardoC/scout/internal/llm"
	"github.com/RichardoC/scout/internal/tools"
	"github.com/RichardoC/scout/internal/transcript"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	// Without Redis the lease guard is process-local and events are dropped,
	// which is fine for a single replica.
	var guard lease.Guard = lease.NewLocalGuard()
	var publisher *events.Publisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		guard = lease.NewRedisGuard(rdb, logger)
		publisher = events.NewPublisher(rdb, logger)
	}

	completer, err := llm.New(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.Model, cfg.MaxTokens, logger)
	if err != nil {
		logger.Fatal("failed to initialize completion client", zap.Error(err))
	}

	registry := tools.NewRegistry(tools.NewSearchTool(cfg.TavilyKey))
	counter := transcript.NewCounter(cfg.Model)
	orchestrator := agent.New(completer, registry, counter, logger,
		agent.WithHistoryBudget(cfg.HistoryBudget))

	handler := api.NewHandler(database, orchestrator, guard, publisher, counter, api.Options{
		TurnTimeout:   cfg.TurnTimeout,
		HistoryBudget: cfg.HistoryBudget,
	}, logger)

	httpSrv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     api.NewRouter(handler),
		ReadTimeout: 30 * time.Second,
		// The response is only written once the whole turn has run.
		WriteTimeout: cfg.TurnTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
}
