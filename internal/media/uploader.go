package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"reelsync/internal/pipeline"
	logx "reelsync/pkg/logx"
)

const defaultUploadTimeout = 5 * time.Minute

// HTTPUploader publishes staged media to a remote endpoint as a multipart
// POST. Responses are classified for the retry policy: missing credentials
// and client errors are permanent, rate limits carry the server's Retry-After
// hint, everything else is retried on the default schedule.
type HTTPUploader struct {
	Endpoint string
	Token    string
	Client   *http.Client

	log logx.Logger
}

func NewHTTPUploader(endpoint, token string, log logx.Logger) *HTTPUploader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPUploader{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: defaultUploadTimeout},
		log:      log,
	}
}

func (u *HTTPUploader) Publish(ctx context.Context, h pipeline.MediaHandle, caption, ownerID string) error {
	if u.Endpoint == "" || u.Token == "" {
		return pipeline.Permanent(errors.New("publish credentials not configured"))
	}

	body, contentType, err := multipartBody(h.Path, caption, ownerID)
	if err != nil {
		return pipeline.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, body)
	if err != nil {
		return pipeline.Permanent(fmt.Errorf("bad publish endpoint: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+u.Token)

	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		u.log.Debug("media published", logx.String("path", h.Path), logx.String("status", resp.Status))
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("publish rate limited: %s", resp.Status)
		if after := retryAfter(resp); after > 0 {
			return pipeline.RetryAfter(err, after)
		}
		return err
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		return fmt.Errorf("publish failed: %s", resp.Status)
	default:
		// Remaining 4xx codes mean the request itself is unacceptable and a
		// retry cannot change that.
		return pipeline.Permanent(fmt.Errorf("publish rejected: %s", resp.Status))
	}
}

func multipartBody(path, caption, ownerID string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, "", err
		}
	}
	if ownerID != "" {
		if err := w.WriteField("owner_id", ownerID); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
