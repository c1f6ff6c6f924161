package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

// OpenAIGenerator serves generation through the OpenAI Images API for
// deployments that point the gateway at an OpenAI-compatible provider instead
// of the default prompt-in-the-path service.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	policy retry.Policy
	logger *zap.Logger
}

// NewOpenAIGenerator builds the alternate generator backend.
func NewOpenAIGenerator(cfg config.GeneratorConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
	if strings.TrimSpace(cfg.OpenAI.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(cfg.OpenAI.BaseURL, "/")))
	}
	client := openai.NewClient(requestOpts...)

	model := strings.TrimSpace(cfg.OpenAI.Model)
	if model == "" {
		model = "gpt-image-1"
	}

	return &OpenAIGenerator{
		client: &client,
		model:  model,
		policy: cfg.Retry.Policy(),
		logger: logger.With(zap.String("component", "generator"), zap.String("backend", "openai")),
	}, nil
}

// Generate requests an image through the Images API under the same retry
// policy as the default backend.
func (g *OpenAIGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedImage, error) {
	params := openai.ImageGenerateParams{
		Model:          openai.ImageModel(g.model),
		Prompt:         req.Prompt,
		Size:           openai.ImageGenerateParamsSize(fmt.Sprintf("%dx%d", req.Width, req.Height)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormat("b64_json"),
	}

	return retry.Do(ctx, g.policy, g.logger, classifyGeneration, func(ctx context.Context) (models.GeneratedImage, error) {
		resp, err := g.client.Images.Generate(ctx, params)
		if err != nil {
			return models.GeneratedImage{}, convertOpenAIError(err)
		}
		if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
			return models.GeneratedImage{}, &CallError{Kind: KindPayload, Detail: "response contained no image data"}
		}
		data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if err != nil {
			return models.GeneratedImage{}, &CallError{Kind: KindPayload, Detail: "response image was not valid base64"}
		}
		return newGeneratedImage(data, "image/png"), nil
	})
}

// convertOpenAIError folds SDK errors into the structured classification the
// retry predicate understands.
func convertOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Error()
		if len(detail) > errorBodyLimit {
			detail = detail[:errorBodyLimit]
		}
		return &CallError{Kind: KindHTTP, Status: apiErr.StatusCode, Detail: detail}
	}
	return &CallError{Kind: KindTransport, Detail: err.Error()}
}
