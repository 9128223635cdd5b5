package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/media"
)

// FFmpeg extracts the audio track of container formats by shelling out to
// the ffmpeg binary.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func NewFFmpeg(cfg *config.Config) *FFmpeg {
	return &FFmpeg{Path: cfg.FFmpegPath, Timeout: cfg.FFmpegTimeout}
}

var outputFormats = map[string][]string{
	"audio/mpeg": {"-acodec", "libmp3lame", "-q:a", "4", "-f", "mp3"},
	"audio/wav":  {"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", "-f", "wav"},
	"audio/ogg":  {"-acodec", "libopus", "-f", "ogg"},
}

// Transcode converts data from one media type to an audio-only format. The
// input goes through a temp file because MP4 and QuickTime need a seekable
// source.
func (f *FFmpeg) Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error) {
	if to == "" {
		to = media.TranscodeTarget
	}
	args, ok := outputFormats[to]
	if !ok {
		return nil, fmt.Errorf("unsupported transcode target %q", to)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no input data")
	}

	in, err := os.CreateTemp("", "voxrelay-*"+extFor(from))
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close temp input: %w", err)
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmdArgs := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin", "-i", in.Name(), "-vn"}, args...)
	cmdArgs = append(cmdArgs, "pipe:1")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, cmdArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, fmt.Errorf("ffmpeg %s -> %s failed: %w (%s)", from, to, err, msg)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg %s -> %s produced no output", from, to)
	}
	log.Debugf("[Transcode] %s -> %s: %d -> %d bytes in %s", from, to, len(data), stdout.Len(), time.Since(start))
	return stdout.Bytes(), nil
}

func extFor(mimeType string) string {
	name := media.FileName("input", mimeType)
	return strings.TrimPrefix(name, "input")
}
