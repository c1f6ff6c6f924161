// Package publisher persists generated images to a public host and hands back
// a shareable URL. Publishing is best-effort: a terminal failure degrades the
// response but never fails the request.
package publisher

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

// Publisher stores an image publicly and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, img models.GeneratedImage) (string, error)
}

// backend performs a single upload attempt.
type backend interface {
	upload(ctx context.Context, img models.GeneratedImage, filename string) (string, error)
}

type publisher struct {
	backend backend
	policy  retry.Policy
	logger  *zap.Logger
}

// New selects and wraps the configured storage backend with the upload retry
// policy.
func New(ctx context.Context, cfg config.PublisherConfig, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		b   backend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "s3":
		b, err = newS3Backend(ctx, cfg)
	case "local":
		b, err = newLocalBackend(cfg)
	default:
		b = newRemoteBackend(cfg)
	}
	if err != nil {
		return nil, err
	}

	return &publisher{
		backend: b,
		policy:  cfg.Retry.Policy(),
		logger:  logger.With(zap.String("component", "publisher")),
	}, nil
}

// Publish names the object and retries the upload. Unlike generation, every
// failure is eligible for another attempt; there is no rate-limit special case.
func (p *publisher) Publish(ctx context.Context, img models.GeneratedImage) (string, error) {
	filename := uuid.NewString() + "." + fileExtension(img.ContentType)
	return retry.Do(ctx, p.policy, p.logger, func(error) retry.Class { return retry.Transient },
		func(ctx context.Context) (string, error) {
			return p.backend.upload(ctx, img, filename)
		})
}

// fileExtension maps a MIME type to an object name extension.
func fileExtension(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// joinPublicURL resolves an upload response body against the configured public
// base and enforces that the final URL lives under that base.
func joinPublicURL(publicBase, body string) (string, bool) {
	base := strings.TrimRight(publicBase, "/")
	candidate := body
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = base + "/" + strings.TrimLeft(candidate, "/")
	}
	if !strings.HasPrefix(candidate, base) {
		return "", false
	}
	return candidate, true
}
