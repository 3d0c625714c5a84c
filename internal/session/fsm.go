package session

import (
	"fmt"

	"github.com/kdimtricp/signassist/internal/models"
)

// Event drives display-mode transitions.
type Event string

const (
	EventSelectImage  Event = "select_image"
	EventSelectVideo  Event = "select_video"
	EventSelectWebcam Event = "select_webcam"
	EventClose        Event = "close"
)

// Transition returns the display mode after event. Source selection is
// valid from every mode; each one resets detection state.
func Transition(current models.DisplayMode, event Event) (models.DisplayMode, error) {
	switch current {
	case models.DisplayIdle, models.DisplayImage, models.DisplayVideo, models.DisplayWebcam:
	default:
		return current, fmt.Errorf("unknown mode %d", int(current))
	}

	switch event {
	case EventSelectImage:
		return models.DisplayImage, nil
	case EventSelectVideo:
		return models.DisplayVideo, nil
	case EventSelectWebcam:
		return models.DisplayWebcam, nil
	case EventClose:
		return models.DisplayIdle, nil
	default:
		return current, invalidTransition(current.String(), string(event))
	}
}

type PopupState string

const (
	PopupClosed  PopupState = "closed"
	PopupLoading PopupState = "loading"
	PopupShowing PopupState = "showing"
	PopupFailed  PopupState = "failed"
)

type PopupEvent string

const (
	PopupEventOpen   PopupEvent = "open"
	PopupEventLoaded PopupEvent = "loaded"
	PopupEventFail   PopupEvent = "fail"
	PopupEventClose  PopupEvent = "close"
)

// PopupTransition is the detail popup sub-machine. Opening replaces
// whatever is shown; a detail result only lands on a loading popup.
func PopupTransition(current PopupState, event PopupEvent) (PopupState, error) {
	switch current {
	case PopupClosed, PopupLoading, PopupShowing, PopupFailed:
	default:
		return current, fmt.Errorf("unknown popup state %q", current)
	}

	switch event {
	case PopupEventOpen:
		return PopupLoading, nil
	case PopupEventClose:
		return PopupClosed, nil
	case PopupEventLoaded:
		if current == PopupLoading {
			return PopupShowing, nil
		}
	case PopupEventFail:
		if current == PopupLoading {
			return PopupFailed, nil
		}
	}
	return current, invalidTransition(string(current), string(event))
}

func invalidTransition(state, event string) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
