// Package app wires the gateway's dependencies into a single container shared
// by the HTTP server and the entrypoint.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/observability"
	"github.com/ncecere/open_image_gateway/internal/storage/publisher"
	"github.com/ncecere/open_image_gateway/internal/upstream"
)

// Container holds the long-lived dependencies built once at startup. Requests
// themselves are stateless; nothing in here is mutated per request.
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Generator     upstream.Generator
	Publisher     publisher.Publisher
	Observability *observability.Provider
}

// NewContainer validates configuration once and constructs every collaborator.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	var generator upstream.Generator
	switch cfg.Generator.Backend {
	case "openai":
		generator, err = upstream.NewOpenAIGenerator(cfg.Generator, logger)
		if err != nil {
			return nil, fmt.Errorf("build generator: %w", err)
		}
	default:
		generator = upstream.NewHTTPGenerator(cfg.Generator, logger)
	}

	pub, err := publisher.New(ctx, cfg.Publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("build publisher: %w", err)
	}

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Generator:     generator,
		Publisher:     pub,
		Observability: obs,
	}, nil
}
