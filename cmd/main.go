package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"goal-agent/handler"
	"goal-agent/internal/app"
	"goal-agent/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	built, err := app.Build(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to build goal agent", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(built.Service, handler.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
