package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/lighthouse-migrator/internal/adapters/http"
	"github.com/melih/lighthouse-migrator/internal/app"
	"github.com/melih/lighthouse-migrator/internal/config"
	"github.com/melih/lighthouse-migrator/internal/logging"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("LIGHTHOUSE_CONFIG", ""), "Path to the YAML config file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Initialize Adapters (Infrastructure)
	migrator, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize migrator", zap.Error(err))
	}
	defer migrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrator.StartSweeper(ctx); err != nil {
		logger.Fatal("Failed to schedule orphan sweep", zap.Error(err))
	}

	// 3. Setup Framework (Fiber)
	server := fiber.New(fiber.Config{DisableStartupMessage: true})
	http.NewMigrationHandler(migrator.Service, logger.Named("http")).Register(server, migrator.Metrics.Handler())

	// 4. Start Server
	go func() {
		logger.Info("Server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("routing_mode", cfg.Routing.Mode))
		if err := server.Listen(cfg.Server.Addr); err != nil {
			logger.Error("Server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
