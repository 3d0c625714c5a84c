package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kdimtricp/signassist/internal/models"
)

// Announcer owns at most one narration at a time. A new announcement
// replaces the current one.
type Announcer struct {
	speaker Speaker
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAnnouncer(speaker Speaker, logger *slog.Logger) *Announcer {
	if speaker == nil {
		speaker = NopSpeaker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{speaker: speaker, logger: logger.With("component", "announcer")}
}

// Announce narrates the signs, interrupting any narration in progress.
// An empty list only interrupts.
func (a *Announcer) Announce(signs []models.TrafficSign) {
	if !a.speaker.Available() {
		a.logger.Warn("speech output not available", "signs", len(signs))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()

	text := Compose(signs)
	if text == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel, a.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		u := Utterance{Text: text, Lang: Language, Rate: Rate}
		if err := a.speaker.Speak(ctx, u); err != nil && ctx.Err() == nil {
			a.logger.Error("speech failed", "error", err)
		}
	}()
}

// Cancel stops the current narration and waits until it has ended.
func (a *Announcer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Announcer) stopLocked() {
	if a.cancel != nil {
		a.cancel()
	}
	a.speaker.Cancel()
	if a.done != nil {
		<-a.done
	}
	a.cancel, a.done = nil, nil
}

// Speaking reports whether a narration is in progress.
func (a *Announcer) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}
