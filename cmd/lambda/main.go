package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/BradenHooton/gatekeeper/internal/app"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = app.NewLogger(&cfg.Server)
	slog.SetDefault(logger)

	// Connections are opened once per execution environment and reused
	// across invocations
	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}

	lambda.Start(handlers.NewLambdaHandler(application.AuthHandler).Handle)
}
