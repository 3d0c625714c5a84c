package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DisplayMode is the media source type currently shown in the main viewport.
type DisplayMode int

const (
	DisplayIdle DisplayMode = iota
	DisplayImage
	DisplayVideo
	DisplayWebcam
)

func (m DisplayMode) String() string {
	switch m {
	case DisplayIdle:
		return "idle"
	case DisplayImage:
		return "image"
	case DisplayVideo:
		return "video"
	case DisplayWebcam:
		return "webcam"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m DisplayMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func ParseDisplayMode(s string) (DisplayMode, error) {
	switch s {
	case "idle":
		return DisplayIdle, nil
	case "image":
		return DisplayImage, nil
	case "video":
		return DisplayVideo, nil
	case "webcam":
		return DisplayWebcam, nil
	default:
		return DisplayIdle, fmt.Errorf("unknown display mode %q", s)
	}
}

// MediaKind selects which acquisition path a file goes through.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaSource is the handle for an uploaded image or video. It stays valid
// until the owning session releases it.
type MediaSource struct {
	ID          string    `json:"id"`
	Kind        MediaKind `json:"kind"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewMediaSource(kind MediaKind, filename, contentType string, size int64) *MediaSource {
	return &MediaSource{
		ID:          uuid.New().String(),
		Kind:        kind,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		URL:         "/media/" + filename,
		CreatedAt:   time.Now(),
	}
}
