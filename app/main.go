package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zp-hackthon/tickethunter/app/api"
	"github.com/zp-hackthon/tickethunter/app/bus"
	"github.com/zp-hackthon/tickethunter/app/cache"
	"github.com/zp-hackthon/tickethunter/app/cfg"
	"github.com/zp-hackthon/tickethunter/app/classifier"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/feed"
	"github.com/zp-hackthon/tickethunter/app/ingest"
	"github.com/zp-hackthon/tickethunter/app/ratelimit"
	"github.com/zp-hackthon/tickethunter/app/scheduler"
	"github.com/zp-hackthon/tickethunter/app/watchlist"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully.
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting TicketHunter server", "version", appCfg.Version)

	db, err := database.Connect(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	postRepo := database.NewPostRepository(db)
	ticketRepo := database.NewTicketRepository(db)
	taskRepo := database.NewTaskRepository(db)

	// Redis is optional; without it the response cache is a permanent miss
	// and task creation is not rate limited.
	var redisClient *redis.Client
	var respCache *cache.Cache
	var limiter *ratelimit.TokenBucket
	if appCfg.RedisAddr != "" {
		redisClient, err = cache.Connect(appCfg.RedisAddr)
		if err != nil {
			slog.Warn("Redis unavailable, continuing without cache and rate limiting", "error", err)
		} else {
			defer redisClient.Close()
			respCache = cache.New(redisClient)
			limiter = ratelimit.NewTokenBucket(redisClient, 10, 10.0/60.0, 5*time.Minute)
			slog.Info("Connected to Redis", "addr", appCfg.RedisAddr)
		}
	}

	eventBus := bus.New()
	feedClient := feed.NewClient(appCfg.MCPURL, appCfg.UserAgent)
	llmClient := classifier.NewClient(appCfg.LLMURL, appCfg.LLMKey, appCfg.LLMModel)

	runner := ingest.NewRunner(postRepo, ticketRepo, taskRepo, feedClient, llmClient, eventBus, appCfg.WorkerCount)

	defaultInterval := time.Duration(appCfg.ScheduleInterval) * time.Second
	taskScheduler := scheduler.NewScheduler(taskRepo, runner, llmClient, eventBus, defaultInterval)
	taskScheduler.Start()
	defer taskScheduler.Stop()

	if appCfg.WatchlistPath != "" {
		wl, err := watchlist.Load(appCfg.WatchlistPath)
		if err != nil {
			slog.Error("Failed to load watchlist", "path", appCfg.WatchlistPath, "error", err)
		} else {
			go watchlist.Bootstrap(context.Background(), wl, taskRepo, taskScheduler)
		}
	}

	handler := api.NewHandler(taskRepo, ticketRepo, postRepo, taskScheduler, eventBus, respCache, limiter)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	// No WriteTimeout: /stream connections are long-lived.
	httpServer := &http.Server{
		Addr:        ":" + appCfg.Port,
		Handler:     server,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler and database are stopped via defer.
	slog.Info("Shutdown complete")
}
