package media

import (
	"sort"
	"strings"

	"github.com/cuongbtq/transcriber/internal/domain"
)

// DefaultExtension is used when the type is missing or an unknown audio/video subtype.
const DefaultExtension = ".mp3"

var extensionsByType = map[string]string{
	"audio/mpeg":       ".mp3",
	"audio/mp3":        ".mp3",
	"audio/wav":        ".wav",
	"audio/x-wav":      ".wav",
	"audio/wave":       ".wav",
	"audio/m4a":        ".m4a",
	"audio/x-m4a":      ".m4a",
	"audio/mp4":        ".m4a",
	"audio/flac":       ".flac",
	"audio/x-flac":     ".flac",
	"audio/ogg":        ".ogg",
	"audio/aac":        ".aac",
	"audio/webm":       ".webm",
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/webm":       ".webm",
	"video/x-msvideo":  ".avi",
	"video/quicktime":  ".mov",
	"video/x-ms-wmv":   ".wmv",
}

// ExtensionFor maps a declared content type to a file extension. Parameters
// such as charset are ignored.
func ExtensionFor(contentType string) (string, error) {
	ct := normalizeContentType(contentType)
	if ct == "" {
		return DefaultExtension, nil
	}
	if ext, ok := extensionsByType[ct]; ok {
		return ext, nil
	}
	if strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") {
		return DefaultExtension, nil
	}
	return "", domain.NewUnsupportedMediaTypeError(ct, SupportedTypes())
}

// SupportedTypes lists the explicitly mapped content types.
func SupportedTypes() []string {
	types := make([]string, 0, len(extensionsByType))
	for t := range extensionsByType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func normalizeContentType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

var contentTypesByExtension = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".webm": "audio/webm",
	".opus": "audio/ogg",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
}

// ContentTypeFor is the reverse lookup used when uploading to the object store.
func ContentTypeFor(ext string) string {
	if ct, ok := contentTypesByExtension[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
