package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

const userAgent = "VoxRelay/1.0 (+attachment-fetch)"

// Downloader fetches attachment bodies with a size cap and retries transient
// failures with exponential backoff.
type Downloader struct {
	Client   *http.Client
	MaxBytes int64
	Retries  int
	Backoff  time.Duration
}

// Downloaded is an attachment body held in memory.
type Downloaded struct {
	URL         string
	ContentType string
	Data        []byte
}

func NewDownloader(cfg *config.Config) *Downloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.AttachmentInsecureSkipVerify {
		log.Warn("[Pipeline] ATTACHMENT_INSECURE_SKIP_VERIFY is set, attachment TLS certificates are NOT verified")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := cfg.AttachmentTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		Client:   &http.Client{Timeout: timeout, Transport: transport},
		MaxBytes: cfg.MaxAttachmentBytes,
		Retries:  cfg.DownloadRetries,
		Backoff:  500 * time.Millisecond,
	}
}

// Fetch downloads rawURL. Incomplete bodies are never retried.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Downloaded, error) {
	var lastErr error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			wait := d.Backoff * time.Duration(1<<(attempt-1))
			log.Infof("[Pipeline] Retrying download of %s in %s (attempt %d/%d): %v", rawURL, wait, attempt+1, d.Retries+1, lastErr)
			if err := sleep(ctx, wait); err != nil {
				return nil, &DownloadError{URL: rawURL, Err: err}
			}
		}

		out, err := d.fetchOnce(ctx, rawURL)
		if err == nil {
			return out, nil
		}
		lastErr = err
		var derr *DownloadError
		if !errors.As(err, &derr) || !derr.Transient {
			return nil, err
		}
	}
	return nil, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL string) (*Downloaded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Transient: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Transient: transient}
	}

	limit := d.MaxBytes
	if limit > 0 && resp.ContentLength > limit {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("advertised size %d exceeds limit %d", resp.ContentLength, limit)}
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	got := int64(len(data))
	if err != nil {
		if resp.ContentLength >= 0 && got != resp.ContentLength {
			return nil, &IncompleteDownloadError{URL: rawURL, Expected: resp.ContentLength, Got: got}
		}
		return nil, &DownloadError{URL: rawURL, Transient: ctx.Err() == nil, Err: err}
	}
	if limit > 0 && got > limit {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("body exceeds limit of %d bytes", limit)}
	}
	if resp.ContentLength >= 0 && got != resp.ContentLength {
		return nil, &IncompleteDownloadError{URL: rawURL, Expected: resp.ContentLength, Got: got}
	}

	return &Downloaded{URL: rawURL, ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
