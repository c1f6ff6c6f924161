// Package upstream talks to the external image generation service.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

// Generator produces an image for a validated request.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedImage, error)
}

// ErrorKind is the transport-level classification of a failed call. Retry
// decisions switch on this structured value together with the HTTP status,
// never on error-message text.
type ErrorKind int

const (
	// KindTransport covers DNS, connection, and reset failures.
	KindTransport ErrorKind = iota
	// KindHTTP covers responses with a non-success status code.
	KindHTTP
	// KindPayload covers 200 responses whose body is not a usable image.
	KindPayload
)

// CallError describes a failed upstream call.
type CallError struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *CallError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Detail)
	}
	return e.Detail
}

// classifyGeneration implements the generation retry policy: timeouts,
// transport failures, and 5xx are transient; 429 and 403 wait out the
// provider cool-down; everything else is terminal.
func classifyGeneration(err error) retry.Class {
	if errors.Is(err, retry.ErrAttemptTimeout) {
		return retry.Transient
	}
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return retry.Fatal
	}
	switch callErr.Kind {
	case KindTransport:
		return retry.Transient
	case KindHTTP:
		switch {
		case callErr.Status == http.StatusTooManyRequests, callErr.Status == http.StatusForbidden:
			return retry.RateLimited
		case callErr.Status >= 500:
			return retry.Transient
		}
	}
	return retry.Fatal
}
