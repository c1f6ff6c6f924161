package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

// errorBodyLimit bounds how much of a non-image response body is kept as the
// error detail.
const errorBodyLimit = 200

// HTTPGenerator calls a prompt-in-the-path image service: the sanitized prompt
// is path-escaped under <base>/prompt/ and the remaining parameters travel as
// query values.
type HTTPGenerator struct {
	baseURL string
	policy  retry.Policy
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPGenerator builds the default generator backend.
func NewHTTPGenerator(cfg config.GeneratorConfig, logger *zap.Logger) *HTTPGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGenerator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		policy:  cfg.Retry.Policy(),
		client:  &http.Client{},
		logger:  logger.With(zap.String("component", "generator")),
	}
}

// Generate requests an image, retrying per the generation policy. The
// returned error is a *retry.Failure carrying the attempt count.
func (g *HTTPGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedImage, error) {
	target := g.requestURL(req)
	return retry.Do(ctx, g.policy, g.logger, classifyGeneration, func(ctx context.Context) (models.GeneratedImage, error) {
		return g.fetch(ctx, target)
	})
}

func (g *HTTPGenerator) requestURL(req models.GenerationRequest) string {
	values := url.Values{}
	values.Set("width", strconv.Itoa(req.Width))
	values.Set("height", strconv.Itoa(req.Height))
	values.Set("model", req.Model)
	values.Set("nologo", "true")
	if req.Seed != nil {
		values.Set("seed", strconv.FormatInt(*req.Seed, 10))
	}
	if req.Enhance != nil && *req.Enhance {
		values.Set("enhance", "true")
	}
	return g.baseURL + "/prompt/" + url.PathEscape(req.Prompt) + "?" + values.Encode()
}

func (g *HTTPGenerator) fetch(ctx context.Context, target string) (models.GeneratedImage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.GeneratedImage{}, &CallError{Kind: KindTransport, Detail: err.Error()}
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return models.GeneratedImage{}, &CallError{Kind: KindTransport, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return models.GeneratedImage{}, &CallError{Kind: KindHTTP, Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		// Some services return error documents with a 200 status; treat any
		// non-image body as a failed call.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return models.GeneratedImage{}, &CallError{
			Kind:   KindPayload,
			Status: resp.StatusCode,
			Detail: fmt.Sprintf("expected image response, got %q: %s", contentType, strings.TrimSpace(string(body))),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.GeneratedImage{}, &CallError{Kind: KindTransport, Detail: err.Error()}
	}
	if len(data) == 0 {
		return models.GeneratedImage{}, &CallError{Kind: KindPayload, Status: resp.StatusCode, Detail: "empty image body"}
	}

	return newGeneratedImage(data, contentType), nil
}

// newGeneratedImage assembles the inline form alongside the raw bytes.
func newGeneratedImage(data []byte, contentType string) models.GeneratedImage {
	return models.GeneratedImage{
		Bytes:       data,
		ContentType: contentType,
		DataURI:     "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
}
