package pipeline

import (
	"errors"
	"fmt"
)

// MalformedAttachmentError means the reference could not be resolved to a URL.
type MalformedAttachmentError struct {
	Index int
	Err   error
}

func (e *MalformedAttachmentError) Error() string {
	return fmt.Sprintf("attachment %d: %v", e.Index, e.Err)
}
func (e *MalformedAttachmentError) Unwrap() error { return e.Err }

// DownloadError covers transport failures, non-2xx answers and oversized bodies.
type DownloadError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}
func (e *DownloadError) Unwrap() error { return e.Err }

// IncompleteDownloadError means fewer (or more) bytes arrived than the server
// advertised. The data is never transcribed.
type IncompleteDownloadError struct {
	URL      string
	Expected int64
	Got      int64
}

func (e *IncompleteDownloadError) Error() string {
	return fmt.Sprintf("download %s incomplete: got %d of %d bytes", e.URL, e.Got, e.Expected)
}

type UnsupportedFormatError struct {
	URL         string
	ContentType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("attachment %s has unsupported content type %q", e.URL, e.ContentType)
}

type TranscodeError struct {
	From string
	Err  error
}

func (e *TranscodeError) Error() string { return fmt.Sprintf("transcode %s: %v", e.From, e.Err) }
func (e *TranscodeError) Unwrap() error { return e.Err }

type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// CancelledError means the event context ended before the attachment got a
// transcription slot.
type CancelledError struct {
	Stage Stage
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled after %s: %v", e.Stage, e.Err)
}
func (e *CancelledError) Unwrap() error { return e.Err }

// DropReason maps a drop error to the short label used in logs and counters.
func DropReason(err error) string {
	var (
		malformed   *MalformedAttachmentError
		incomplete  *IncompleteDownloadError
		download    *DownloadError
		unsupported *UnsupportedFormatError
		transcode   *TranscodeError
		transcribe  *TranscriptionError
		cancelled   *CancelledError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &incomplete):
		return "incomplete_download"
	case errors.As(err, &download):
		return "download"
	case errors.As(err, &unsupported):
		return "unsupported_format"
	case errors.As(err, &transcode):
		return "transcode"
	case errors.As(err, &transcribe):
		return "transcription"
	case errors.As(err, &cancelled):
		return "cancelled"
	default:
		return "other"
	}
}
