package speech

import (
	"context"
	"sync"

	"github.com/kdimtricp/signassist/internal/events"
)

const (
	EventSpeak  = "speech.speak"
	EventCancel = "speech.cancel"
)

// Publisher receives speech cues.
type Publisher interface {
	Publish(evt events.Event)
}

// BrowserSpeaker hands narration to the connected browser, which runs the
// platform speech synthesizer. Cues are published in call order.
type BrowserSpeaker struct {
	pub Publisher
	mu  sync.Mutex
}

func NewBrowserSpeaker(pub Publisher) *BrowserSpeaker {
	return &BrowserSpeaker{pub: pub}
}

func (b *BrowserSpeaker) Speak(ctx context.Context, u Utterance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	b.pub.Publish(events.Event{Type: EventSpeak, Data: u})
	return nil
}

func (b *BrowserSpeaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pub.Publish(events.Event{Type: EventCancel, Data: struct{}{}})
}

func (b *BrowserSpeaker) Available() bool {
	return b.pub != nil
}
