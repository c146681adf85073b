package main

import (
	"context"
	"os"
	"os/signal"
	clts "kaswatch/clients"
	"kaswatch/config"
	"kaswatch/internal/app"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from .env and environment variables
	envConfig := config.Load()
	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("refusing to start with invalid config")
	}
	logger.Info("starting kaswatch", zap.Bool("isProd", envConfig.IsProd))

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients, err := clts.NewClients(logger, envConfig)
	if err != nil {
		logger.Fatal("failed to create clients", zap.Error(err))
	}
	defer clients.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
