package providers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// DefaultMaxDownloadBytes bounds a single mirrored image.
const DefaultMaxDownloadBytes = 32 << 20

// Downloader fetches a remote object into memory.
type Downloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

type httpDownloader struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPDownloader(timeout time.Duration, maxBytes int64) Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &httpDownloader{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (d *httpDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("download %s: body exceeds %d bytes", url, d.maxBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

// ExtensionFor picks a file extension for a mirrored image, preferring the
// content type and falling back to the source URL.
func ExtensionFor(contentType, sourceURL string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	u := sourceURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if ext := strings.ToLower(path.Ext(u)); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}
