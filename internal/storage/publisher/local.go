package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

// localBackend writes images to a directory served by an external web server.
// Intended for development and single-node deployments.
type localBackend struct {
	root       string
	publicBase string
}

func newLocalBackend(cfg config.PublisherConfig) (*localBackend, error) {
	dir := cfg.Local.Directory
	if strings.TrimSpace(dir) == "" {
		dir = "./data/images"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &localBackend{root: dir, publicBase: cfg.PublicBaseURL}, nil
}

func (b *localBackend) upload(ctx context.Context, img models.GeneratedImage, filename string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	path := filepath.Join(b.root, filename)
	tempFile, err := os.CreateTemp(b.root, "upload-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile.Name())
	if _, err := tempFile.Write(img.Bytes); err != nil {
		tempFile.Close()
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return "", err
	}

	publicURL, ok := joinPublicURL(b.publicBase, filename)
	if !ok {
		return "", fmt.Errorf("filename %q resolves outside the public base", filename)
	}
	return publicURL, nil
}
