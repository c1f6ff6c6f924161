package httpserver

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
	"github.com/ncecere/open_image_gateway/internal/validate"
)

// handleGenerate drives the two-stage pipeline: validate, generate with retry,
// then publish with retry. A publish failure degrades the response instead of
// failing it; the generated image is the primary contract.
func (s *Server) handleGenerate(c *fiber.Ctx) error {
	var body map[string]any
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Invalid JSON body", nil)
	}

	req, problems := validate.Request(body)
	if len(problems) > 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Validation failed", problems)
	}

	ctx := c.UserContext()
	logger := s.container.Logger

	start := time.Now()
	img, err := s.container.Generator.Generate(ctx, req)
	if err != nil {
		s.container.Observability.RecordUpstreamCall("generate", "error", time.Since(start))
		logger.Error("image generation failed",
			zap.String("model", req.Model),
			zap.Error(err))
		return httputil.WriteError(c, fiber.StatusInternalServerError, "Image generation failed", failureDetails(err))
	}
	s.container.Observability.RecordUpstreamCall("generate", "ok", time.Since(start))

	start = time.Now()
	publicURL, uploadErr := s.container.Publisher.Publish(ctx, img)
	if uploadErr != nil {
		s.container.Observability.RecordUpstreamCall("publish", "error", time.Since(start))
		logger.Warn("public upload failed, returning inline image only",
			zap.Error(uploadErr))
	} else {
		s.container.Observability.RecordUpstreamCall("publish", "ok", time.Since(start))
	}

	data := composeData(req, img, publicURL, uploadErr)
	return c.JSON(models.ResponseEnvelope{Success: true, Data: &data})
}

// composeData builds the success payload. The public URL appears only when
// the upload succeeded; otherwise warnings and the upload error take its
// place. Parameters echo what the caller supplied, with prompt, width,
// height, and model always present.
func composeData(req models.GenerationRequest, img models.GeneratedImage, publicURL string, uploadErr error) models.GenerationData {
	data := models.GenerationData{
		Base64: img.DataURI,
		Parameters: models.EchoedParameters{
			Prompt:  req.Prompt,
			Width:   req.Width,
			Height:  req.Height,
			Model:   req.Model,
			Seed:    req.Seed,
			Enhance: req.Enhance,
		},
	}
	if uploadErr != nil {
		data.Warnings = []string{"image was generated but could not be published to public storage"}
		data.UploadError = uploadErr.Error()
		return data
	}
	data.PublicURL = publicURL
	return data
}

// failureDetails surfaces the retry outcome so clients can see how many
// attempts were made before giving up.
func failureDetails(err error) any {
	var failure *retry.Failure
	if !errors.As(err, &failure) {
		return err.Error()
	}
	return fiber.Map{
		"attempts":  failure.Attempts,
		"exhausted": failure.Exhausted,
		"lastError": failure.Err.Error(),
	}
}
