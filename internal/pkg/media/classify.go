package media

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind tells the pipeline what to do with a downloaded attachment.
type Kind int

const (
	KindUnsupported Kind = iota
	// KindAudio can go to the transcriber as is.
	KindAudio
	// KindContainer embeds an audio track and must be transcoded first.
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindContainer:
		return "container"
	default:
		return "unsupported"
	}
}

// TranscodeTarget is the audio format containers are converted to.
const TranscodeTarget = "audio/mpeg"

var containerMime = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/3gpp":       true,
	"video/3gpp2":      true,
	"video/ogg":        true,
	"video/x-matroska": true,
	"application/ogg":  true,
}

// Extensions used when the server sends no usable content type and sniffing
// is inconclusive.
var audioExt = map[string]string{
	".mp3":  "audio/mpeg",
	".mpga": "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".amr":  "audio/amr",
}

var containerExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".3gp":  "video/3gpp",
	".mkv":  "video/x-matroska",
}

var fileExt = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"audio/aac":    ".aac",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/ogg":    ".ogg",
	"audio/opus":   ".ogg",
	"audio/webm":   ".webm",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/amr":    ".amr",

	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"video/3gpp":       ".3gp",
	"video/x-matroska": ".mkv",
	"video/ogg":        ".ogv",
	"application/ogg":  ".ogg",
}

// ErrUnsupported is returned by Classify for anything that is neither audio
// nor a container with an audio track.
var ErrUnsupported = errors.New("content is neither audio nor a transcodable container")

// Classify decides how to treat an attachment from its declared content type,
// its file name and the first bytes of the body. The returned mime type is
// the one the pipeline should trust from here on.
func Classify(contentType, name string, head []byte) (Kind, string, error) {
	declared := baseType(contentType)

	// Never hand markup to the transcoder regardless of what the server claims.
	if len(head) > 0 {
		sniffed := mimetype.Detect(head)
		if sniffed.Is("text/html") || sniffed.Is("text/xml") || sniffed.Is("image/svg+xml") {
			return KindUnsupported, sniffed.String(), ErrUnsupported
		}
	}

	if kind, ok := kindOf(declared); ok {
		return kind, declared, nil
	}
	if declared != "" && declared != "application/octet-stream" && declared != "binary/octet-stream" {
		return KindUnsupported, declared, ErrUnsupported
	}

	if len(head) > 0 {
		sniffed := baseType(mimetype.Detect(head).String())
		if kind, ok := kindOf(sniffed); ok {
			return kind, sniffed, nil
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := audioExt[ext]; ok {
		return KindAudio, m, nil
	}
	if m, ok := containerExt[ext]; ok {
		return KindContainer, m, nil
	}
	return KindUnsupported, declared, ErrUnsupported
}

// FileName returns name with an extension matching mimeType, which speech
// APIs use to pick a decoder.
func FileName(name, mimeType string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "attachment"
	}
	ext, ok := fileExt[baseType(mimeType)]
	if !ok {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		} else {
			ext = ".bin"
		}
	}
	return base + ext
}

func kindOf(m string) (Kind, bool) {
	switch {
	case m == "":
		return KindUnsupported, false
	case containerMime[m]:
		return KindContainer, true
	case strings.HasPrefix(m, "audio/"):
		return KindAudio, true
	}
	return KindUnsupported, false
}

func baseType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if m, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(m)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
