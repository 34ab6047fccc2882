// Package media provides the concrete pipeline stages: an HTTP downloader, a
// local processing step, and an HTTP uploader for the publish endpoint.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reelsync/internal/pipeline"
	logx "reelsync/pkg/logx"
)

const defaultFetchTimeout = 2 * time.Minute

// HTTPFetcher downloads source media into Dir. Each download gets a fresh
// uuid filename so concurrent tasks for the same URL never collide.
type HTTPFetcher struct {
	Dir       string
	UserAgent string
	Client    *http.Client

	log logx.Logger
}

func NewHTTPFetcher(dir, userAgent string, log logx.Logger) *HTTPFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPFetcher{
		Dir:       dir,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: defaultFetchTimeout},
		log:       log,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url, ownerID string) (pipeline.MediaHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pipeline.MediaHandle{}, pipeline.Permanent(fmt.Errorf("bad source url: %w", err))
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return pipeline.MediaHandle{}, pipeline.Permanent(fmt.Errorf("source gone: %s", resp.Status))
	default:
		return pipeline.MediaHandle{}, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("download dir: %w", err)
	}
	name := uuid.New().String() + extFor(resp.Header.Get("Content-Type"))
	path := filepath.Join(f.Dir, name)

	out, err := os.Create(path)
	if err != nil {
		return pipeline.MediaHandle{}, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return pipeline.MediaHandle{}, fmt.Errorf("write %s: %w", path, err)
	}

	f.log.Debug("media fetched",
		logx.String("url", url), logx.String("path", path), logx.Int64("bytes", n))
	return pipeline.MediaHandle{Path: path}, nil
}

// extFor maps a response content type to a filename extension, defaulting to
// .mp4 since that is what the publish endpoint expects.
func extFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".mp4"
	}
	switch mt {
	case "video/mp4", "application/octet-stream", "":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
			return exts[0]
		}
		return ".mp4"
	}
}
