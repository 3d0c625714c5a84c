// Package media acquires the user's chosen source: uploaded images and
// videos kept in storage, and the live webcam frame stream.
package media

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kdimtricp/signassist/internal/models"
)

var ErrUnsupportedType = errors.New("unsupported media type")

// Validate checks a declared content type against the requested kind and
// returns the effective type. Browsers send an empty or generic type for
// some files, in which case the extension decides.
func Validate(kind models.MediaKind, contentType, filename string) (string, error) {
	prefix, err := kindPrefix(kind)
	if err != nil {
		return "", err
	}

	ct := normalize(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = typeByExtension(filename)
	}

	if !strings.HasPrefix(ct, prefix) {
		return "", fmt.Errorf("%w: %q for %s", ErrUnsupportedType, contentType, kind)
	}
	return ct, nil
}

func kindPrefix(kind models.MediaKind) (string, error) {
	switch kind {
	case models.MediaImage:
		return "image/", nil
	case models.MediaVideo:
		return "video/", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrUnsupportedType, kind)
	}
}

// videoTypes covers extensions missing from the built-in mime table.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

func typeByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	if ct := normalize(mime.TypeByExtension(ext)); ct != "" {
		return ct
	}
	return videoTypes[ext]
}

func normalize(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
