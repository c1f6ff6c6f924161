package publisher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/retry"
)

func testPublisherConfig(endpoint, publicBase string) config.PublisherConfig {
	return config.PublisherConfig{
		Backend:       "remote",
		Endpoint:      endpoint,
		PublicBaseURL: publicBase,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			AttemptTimeout: 2 * time.Second,
			BaseDelay:      time.Millisecond,
			MaxDelay:       4 * time.Millisecond,
		},
	}
}

func testImage() models.GeneratedImage {
	return models.GeneratedImage{
		Bytes:       []byte("imagebytes"),
		ContentType: "image/png",
		DataURI:     "data:image/png;base64,aW1hZ2VieXRlcw==",
	}
}

func TestFileExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        string
	}{
		{contentType: "image/png", want: "png"},
		{contentType: "image/gif", want: "gif"},
		{contentType: "image/webp", want: "webp"},
		{contentType: "image/jpeg", want: "jpg"},
		{contentType: "image/png; charset=binary", want: "png"},
		{contentType: "application/octet-stream", want: "jpg"},
		{contentType: "", want: "jpg"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, fileExtension(tt.contentType), "content type %q", tt.contentType)
	}
}

func TestJoinPublicURL(t *testing.T) {
	t.Parallel()

	base := "https://files.example.com"

	got, ok := joinPublicURL(base, "abc.png")
	require.True(t, ok)
	require.Equal(t, "https://files.example.com/abc.png", got)

	got, ok = joinPublicURL(base+"/", "/nested/abc.png")
	require.True(t, ok)
	require.Equal(t, "https://files.example.com/nested/abc.png", got)

	got, ok = joinPublicURL(base, "https://files.example.com/abc.png")
	require.True(t, ok)
	require.Equal(t, "https://files.example.com/abc.png", got)

	_, ok = joinPublicURL(base, "https://evil.example.net/abc.png")
	require.False(t, ok)
}

func TestPublishRemoteSuccess(t *testing.T) {
	t.Parallel()

	var uploadedName, reqType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		reqType = r.FormValue("reqtype")
		file, header, err := r.FormFile("fileToUpload")
		require.NoError(t, err)
		defer file.Close()
		uploadedName = header.Filename
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, []byte("imagebytes"), data)
		io.WriteString(w, "uploads/"+header.Filename+"\n")
	}))
	defer srv.Close()

	pub, err := New(context.Background(), testPublisherConfig(srv.URL, "https://files.example.com"), nil)
	require.NoError(t, err)

	url, err := pub.Publish(context.Background(), testImage())
	require.NoError(t, err)
	require.Equal(t, "fileupload", reqType)
	require.True(t, strings.HasSuffix(uploadedName, ".png"))
	require.Equal(t, "https://files.example.com/uploads/"+uploadedName, url)
}

func TestPublishRemoteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "abc.png")
	}))
	defer srv.Close()

	pub, err := New(context.Background(), testPublisherConfig(srv.URL, "https://files.example.com"), nil)
	require.NoError(t, err)

	url, err := pub.Publish(context.Background(), testImage())
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "https://files.example.com/abc.png", url)
}

func TestPublishRemoteExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub, err := New(context.Background(), testPublisherConfig(srv.URL, "https://files.example.com"), nil)
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), testImage())
	var failure *retry.Failure
	require.ErrorAs(t, err, &failure)
	require.True(t, failure.Exhausted)
	require.Equal(t, 3, failure.Attempts)
	require.Equal(t, int32(3), calls.Load())
}

func TestPublishRemoteRejectsBadBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "error body", body: "ERROR: quota exceeded"},
		// Known limitation: the substring heuristic also trips on bodies that
		// merely contain "fail".
		{name: "fail body", body: "upload failed"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			pub, err := New(context.Background(), testPublisherConfig(srv.URL, "https://files.example.com"), nil)
			require.NoError(t, err)

			_, err = pub.Publish(context.Background(), testImage())
			require.Error(t, err)
		})
	}
}

func TestPublishRemoteRejectsForeignURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "https://elsewhere.example.net/abc.png")
	}))
	defer srv.Close()

	pub, err := New(context.Background(), testPublisherConfig(srv.URL, "https://files.example.com"), nil)
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), testImage())
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside the public base")
}

func TestPublishLocalWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.PublisherConfig{
		Backend:       "local",
		PublicBaseURL: "https://files.example.com",
		Local:         config.LocalConfig{Directory: dir},
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			AttemptTimeout: 2 * time.Second,
			BaseDelay:      time.Millisecond,
			MaxDelay:       4 * time.Millisecond,
		},
	}
	pub, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	url, err := pub.Publish(context.Background(), testImage())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://files.example.com/"))

	filename := strings.TrimPrefix(url, "https://files.example.com/")
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	require.Equal(t, []byte("imagebytes"), data)
}
