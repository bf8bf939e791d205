package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/minewatch/profit-bot/internal/analyst"
	"github.com/minewatch/profit-bot/internal/config"
	"github.com/minewatch/profit-bot/internal/dedup"
	"github.com/minewatch/profit-bot/internal/handler"
	"github.com/minewatch/profit-bot/internal/middleware"
	"github.com/minewatch/profit-bot/internal/pool"
	"github.com/minewatch/profit-bot/internal/pricing"
	"github.com/minewatch/profit-bot/internal/report"
	"github.com/minewatch/profit-bot/internal/store"
	"github.com/minewatch/profit-bot/internal/telegram"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis gate (retry up to 30s for ExternalSecret to sync)
	var gate *dedup.Gate
	for i := 0; i < 6; i++ {
		gate, err = dedup.New(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer gate.Close()
	logger.Info("redis connected for report gating")

	// Data sources
	poolClient := pool.NewClient(cfg.ViaBTC.APIKey, cfg.ViaBTC.SecretKey, cfg.ViaBTC.Timeout)
	priceClient := pricing.NewClient()
	ai := analyst.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model, analyst.NewSentimentClient())
	if !ai.Enabled() {
		logger.Info("AI commentary disabled, no OpenAI key configured")
	}

	// Telegram bot and report engine. The engine sends through the bot,
	// the bot's /report command triggers the engine.
	bot := telegram.NewBot(cfg, logger, db, priceClient, poolClient)
	engine := report.NewEngine(cfg, logger, poolClient, priceClient, ai, db, gate, bot.SendMessage)
	bot.SetReporter(engine)

	go bot.Run(ctx)
	go engine.Run(ctx)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/reports", handler.ListReports(db))
		r.Get("/reports/latest", handler.LatestReport(db))
		r.Get("/prices/{coin}", handler.PriceHistory(db))
		r.Post("/report", handler.TriggerReport(engine, logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
