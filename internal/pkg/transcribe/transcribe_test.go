package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWhisper(t *testing.T, h http.HandlerFunc) *Whisper {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	oc := openai.DefaultConfig("sk-test")
	oc.BaseURL = srv.URL + "/v1"
	return NewWhisperWithConfig(oc, "", "de")
}

func TestWhisperTranscribe(t *testing.T) {
	w := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "de", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice.mp3", header.Filename)
		assert.Equal(t, "fake-mp3", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Hallo, bitte rufen Sie zurück.  "}`))
	})

	text, err := w.Transcribe(context.Background(), []byte("fake-mp3"), "voice.mp3")
	require.NoError(t, err)
	assert.Equal(t, "Hallo, bitte rufen Sie zurück.", text)
}

func TestWhisperEmptyTranscript(t *testing.T) {
	w := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	})

	_, err := w.Transcribe(context.Background(), []byte("x"), "a.wav")
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestWhisperAPIError(t *testing.T) {
	w := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`))
	})

	_, err := w.Transcribe(context.Background(), []byte("x"), "a.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid file format.")
}

func TestWhisperRejectsEmptyAudio(t *testing.T) {
	w := newTestWhisper(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("engine must not be called without audio")
	})

	_, err := w.Transcribe(context.Background(), nil, "a.mp3")
	assert.Error(t, err)
}

func TestFFmpegMissingBinary(t *testing.T) {
	f := &FFmpeg{Path: "/nonexistent/ffmpeg", Timeout: time.Second}

	_, err := f.Transcode(context.Background(), []byte("data"), "video/mp4", "audio/mpeg")
	assert.Error(t, err)
}

func TestFFmpegRejectsUnknownTarget(t *testing.T) {
	f := &FFmpeg{}

	_, err := f.Transcode(context.Background(), []byte("data"), "video/mp4", "audio/x-unknown")
	assert.Error(t, err)
}

func TestFFmpegInvalidInput(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	f := &FFmpeg{Path: path, Timeout: 10 * time.Second}

	_, err = f.Transcode(context.Background(), []byte("definitely not a video"), "video/mp4", "")
	assert.Error(t, err)
}
