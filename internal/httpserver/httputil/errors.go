package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// WriteError standardizes JSON error responses across every endpoint.
func WriteError(c *fiber.Ctx, status int, msg string, details any) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(models.ResponseEnvelope{
		Success: false,
		Error:   msg,
		Details: details,
	})
}
