package ai

import (
	"context"
	"errors"

	"github.com/kdimtricp/signassist/internal/models"
)

const (
	SentinelName    = "Lỗi Phân Tích"
	SentinelMeaning = "Không thể xác định biển báo từ hình ảnh. Vui lòng thử lại với hình ảnh rõ nét hơn."
)

// ErrDetailsUnavailable is the only error GetSignDetails returns to callers.
var ErrDetailsUnavailable = errors.New("Could not fetch detailed sign information.")

// Backend identifies traffic signs in a still image.
type Backend interface {
	Identify(ctx context.Context, image []byte, mimeType string) ([]models.TrafficSign, error)
}

// DetailsBackend looks up the regulatory record for a sign by display name.
type DetailsBackend interface {
	Details(ctx context.Context, signName string) (models.DetailedSignInfo, error)
}

// SignLookup resolves detector class codes to catalog entries.
type SignLookup interface {
	GetByCode(ctx context.Context, code string) (models.SignInfo, error)
}

// Sentinel is the record shown in place of detections when identification fails.
func Sentinel() models.TrafficSign {
	return models.TrafficSign{Name: SentinelName, Meaning: SentinelMeaning}
}

// IsSentinel reports whether the sequence is the identification failure marker.
func IsSentinel(signs []models.TrafficSign) bool {
	return len(signs) == 1 && signs[0] == Sentinel()
}
