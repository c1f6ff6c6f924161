package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/httpserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build container", zap.Error(err))
	}
	if container.Observability != nil {
		defer container.Observability.Shutdown(ctx)
	}

	server, err := httpserver.New(container)
	if err != nil {
		logger.Fatal("construct server", zap.Error(err))
	}

	logger.Info("listening",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.String("generator", cfg.Generator.Backend),
		zap.String("publisher", cfg.Publisher.Backend))

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
