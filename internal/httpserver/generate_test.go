package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

type stubGenerator struct {
	calls atomic.Int32
	img   models.GeneratedImage
	err   error
}

func (s *stubGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedImage, error) {
	s.calls.Add(1)
	if s.err != nil {
		return models.GeneratedImage{}, s.err
	}
	return s.img, nil
}

type stubPublisher struct {
	calls atomic.Int32
	url   string
	err   error
}

func (s *stubPublisher) Publish(ctx context.Context, img models.GeneratedImage) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr:     ":0",
			BodyLimitBytes: 1_048_576,
		},
		Generator: config.GeneratorConfig{Backend: "http", BaseURL: "https://img.example.com"},
		Publisher: config.PublisherConfig{
			Backend:       "remote",
			Endpoint:      "https://host.example.com/upload",
			PublicBaseURL: "https://files.example.com",
		},
	}
}

func newTestServer(t *testing.T, gen *stubGenerator, pub *stubPublisher) *Server {
	t.Helper()
	server, err := New(&app.Container{
		Config:    testConfig(),
		Logger:    zap.NewNop(),
		Generator: gen,
		Publisher: pub,
	})
	require.NoError(t, err)
	return server
}

func goodImage() models.GeneratedImage {
	return models.GeneratedImage{
		Bytes:       []byte("imagebytes"),
		ContentType: "image/png",
		DataURI:     "data:image/png;base64,aW1hZ2VieXRlcw==",
	}
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&payload))
	return payload
}

func TestIndexRoute(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	resp, err := server.App().Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, true, payload["success"])
	require.NotEmpty(t, payload["endpoints"])
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	resp, err := server.App().Test(httptest.NewRequest("GET", "/nope", nil), -1)
	require.NoError(t, err)
	require.Equal(t, 404, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "Endpoint not found", payload["error"])
}

func TestGenerateMalformedJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	req := httptest.NewRequest("POST", "/generate-image", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, "Invalid JSON body", payload["error"])
}

func TestGenerateValidationFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{img: goodImage()}
	server := newTestServer(t, gen, &stubPublisher{url: "https://files.example.com/a.png"})

	req := httptest.NewRequest("POST", "/generate-image",
		strings.NewReader(`{"prompt":"","width":10,"model":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, "Validation failed", payload["error"])
	details, ok := payload["details"].([]any)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(details), 3)
	require.Equal(t, int32(0), gen.calls.Load())
}

func TestGenerateFullSuccess(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})

	req := httptest.NewRequest("POST", "/generate-image",
		strings.NewReader(`{"prompt":"a red fox","seed":42}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, true, payload["success"])

	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(data["base64"].(string), "data:image/png;base64,"))
	require.Equal(t, "https://files.example.com/a.png", data["publicUrl"])
	require.NotContains(t, data, "warnings")
	require.NotContains(t, data, "uploadError")

	params, ok := data["parameters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a red fox", params["prompt"])
	require.Equal(t, float64(1024), params["width"])
	require.Equal(t, float64(1024), params["height"])
	require.Equal(t, "flux", params["model"])
	require.Equal(t, float64(42), params["seed"])
	require.NotContains(t, params, "enhance")
}

func TestGenerateDegradedSuccessWhenUploadFails(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{err: &retry.Failure{Attempts: 3, Exhausted: true, Err: errors.New("host unreachable")}}
	server := newTestServer(t, &stubGenerator{img: goodImage()}, pub)

	req := httptest.NewRequest("POST", "/generate-image", strings.NewReader(`{"prompt":"a red fox"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, true, payload["success"])

	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(data["base64"].(string), "data:image/png;base64,"))
	require.NotContains(t, data, "publicUrl")

	warnings, ok := data["warnings"].([]any)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(warnings), 1)
	require.Contains(t, data["uploadError"], "host unreachable")
}

func TestGenerateUpstreamFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: &retry.Failure{Attempts: 4, Exhausted: true, Err: errors.New("bad gateway")}}
	pub := &stubPublisher{url: "https://files.example.com/a.png"}
	server := newTestServer(t, gen, pub)

	req := httptest.NewRequest("POST", "/generate-image", strings.NewReader(`{"prompt":"a red fox"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 500, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "Image generation failed", payload["error"])

	details, ok := payload["details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(4), details["attempts"])
	require.Equal(t, true, details["exhausted"])
	require.Contains(t, details["lastError"], "bad gateway")
	require.Equal(t, int32(0), pub.calls.Load())
}

func TestGenerateOversizedBodyRejectedBeforeUpstream(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{img: goodImage()}
	server := newTestServer(t, gen, &stubPublisher{url: "https://files.example.com/a.png"})

	big := bytes.Repeat([]byte("a"), 2_000_000)
	req := httptest.NewRequest("POST", "/generate-image", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 413, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	require.Equal(t, false, payload["success"])
	require.Equal(t, int32(0), gen.calls.Load())
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	resp, err := server.App().Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
}

func TestPreflightAllowed(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	req := httptest.NewRequest("OPTIONS", "/generate-image", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 204, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBareOptionsReturnsNoContent(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &stubGenerator{img: goodImage()}, &stubPublisher{url: "https://files.example.com/a.png"})
	resp, err := server.App().Test(httptest.NewRequest("OPTIONS", "/generate-image", nil), -1)
	require.NoError(t, err)
	require.Equal(t, 204, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}
