package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

func TestDownloaderRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(mp3Body)
	}))
	defer srv.Close()

	d := &Downloader{Client: srv.Client(), MaxBytes: 1 << 20, Retries: 2, Backoff: time.Millisecond}
	out, err := d.Fetch(context.Background(), srv.URL+"/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, mp3Body, out.Data)
	assert.Equal(t, "audio/mpeg", out.ContentType)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownloaderGivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := &Downloader{Client: srv.Client(), Retries: 1, Backoff: time.Millisecond}
	_, err := d.Fetch(context.Background(), srv.URL)
	var derr *DownloadError
	require.True(t, errors.As(err, &derr))
	assert.True(t, derr.Transient)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloaderDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := &Downloader{Client: srv.Client(), Retries: 3, Backoff: time.Millisecond}
	_, err := d.Fetch(context.Background(), srv.URL)
	var derr *DownloadError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, http.StatusForbidden, derr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloaderSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked" {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	d := &Downloader{Client: srv.Client(), MaxBytes: 32}
	for _, path := range []string{"/advertised", "/chunked"} {
		_, err := d.Fetch(context.Background(), srv.URL+path)
		var derr *DownloadError
		require.True(t, errors.As(err, &derr), path)
		assert.False(t, derr.Transient, path)
	}
}

func TestDownloaderIncompleteBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "500")
		_, _ = w.Write([]byte("only a little"))
	}))
	defer srv.Close()

	d := &Downloader{Client: srv.Client(), MaxBytes: 1 << 20, Retries: 2, Backoff: time.Millisecond}
	_, err := d.Fetch(context.Background(), srv.URL)
	var ierr *IncompleteDownloadError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, int64(500), ierr.Expected)
	assert.Equal(t, int64(len("only a little")), ierr.Got)
}

func TestNewDownloaderFromConfig(t *testing.T) {
	d := NewDownloader(&config.Config{MaxAttachmentBytes: 1024, DownloadRetries: 4, AttachmentInsecureSkipVerify: true})
	assert.Equal(t, int64(1024), d.MaxBytes)
	assert.Equal(t, 4, d.Retries)
	assert.Equal(t, 30*time.Second, d.Client.Timeout)
	tr := d.Client.Transport.(*http.Transport)
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
