// Package speech narrates identification results.
package speech

import (
	"context"
	"strings"

	"github.com/kdimtricp/signassist/internal/models"
)

const (
	Language = "vi-VN"
	Rate     = 0.9
)

// Utterance is one piece of narration.
type Utterance struct {
	Text string  `json:"text"`
	Lang string  `json:"lang"`
	Rate float64 `json:"rate"`
}

// Speaker is a speech engine. Speak blocks until the utterance ends or ctx
// is cancelled. Cancel stops whatever is playing and is safe to call when
// nothing is.
type Speaker interface {
	Speak(ctx context.Context, u Utterance) error
	Cancel()
	Available() bool
}

// Compose builds the narration for a list of detections.
func Compose(signs []models.TrafficSign) string {
	parts := make([]string, 0, len(signs))
	for _, s := range signs {
		parts = append(parts, "Phát hiện biển báo: "+s.Name+". Ý nghĩa là: "+s.Meaning)
	}
	return strings.Join(parts, ". ")
}

// NopSpeaker is the speaker for hosts without speech output.
type NopSpeaker struct{}

func (NopSpeaker) Speak(context.Context, Utterance) error { return nil }
func (NopSpeaker) Cancel() {}
func (NopSpeaker) Available() bool { return false }
