package session

import (
	"sync"
	"time"

	"github.com/kdimtricp/signassist/internal/events"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/speech"
)

// Placeholder is the example record shown in the info list before anything
// has been detected. It is never a detection result.
var Placeholder = models.TrafficSign{
	Name:    "Đường hai chiều",
	Meaning: "Biển báo này cho biết đoạn đường sắp tới có hai chiều xe chạy, cần chú ý đi đúng phần đường và quan sát xe ngược chiều.",
}

const placeholderCount = 3

// popup is the detail popup sub-state: one of popupClosed, popupLoading,
// popupShowing or popupFailed.
type popup interface {
	state() PopupState
}

type popupClosed struct{}

type popupLoading struct {
	sign models.TrafficSign
}

type popupShowing struct {
	sign    models.TrafficSign
	details models.DetailedSignInfo
}

type popupFailed struct {
	sign models.TrafficSign
	err  string
}

func (popupClosed) state() PopupState { return PopupClosed }
func (popupLoading) state() PopupState { return PopupLoading }
func (popupShowing) state() PopupState { return PopupShowing }
func (popupFailed) state() PopupState { return PopupFailed }

// Session is one user's assistant state. All fields are guarded by mu.
type Session struct {
	id string

	mu       sync.Mutex
	mode     models.DisplayMode
	source   *models.MediaSource
	signs    []models.TrafficSign
	loading  bool
	errMsg   string
	audio    bool
	popup    popup
	webcam   *media.Webcam
	version  uint64
	lastSeen time.Time
	closed   bool

	// token fences identification results, popupToken fences detail lookups.
	token      uint64
	popupToken uint64

	broker    *events.Broker
	announcer *speech.Announcer
}

func newSession(id string, broker *events.Broker, announcer *speech.Announcer) *Session {
	return &Session{
		id:        id,
		mode:      models.DisplayIdle,
		signs:     []models.TrafficSign{},
		popup:     popupClosed{},
		lastSeen:  time.Now(),
		broker:    broker,
		announcer: announcer,
	}
}

func (s *Session) ID() string { return s.id }

// InfoItem is one row of the info panel.
type InfoItem struct {
	Name        string `json:"name"`
	Meaning     string `json:"meaning"`
	Placeholder bool   `json:"placeholder"`
}

type PopupView struct {
	State   PopupState               `json:"state" enum:"closed,loading,showing,failed"`
	Sign    *models.TrafficSign      `json:"sign,omitempty"`
	Details *models.DetailedSignInfo `json:"details,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

type WebcamView struct {
	Connected bool `json:"connected"`
	media.WebcamStats
}

// View is the rendering contract for the browser.
type View struct {
	ID             string               `json:"id"`
	Mode           string               `json:"mode" enum:"idle,image,video,webcam"`
	Source         *models.MediaSource  `json:"source,omitempty"`
	SourceURL      string               `json:"source_url,omitempty"`
	DetectedSigns  []models.TrafficSign `json:"detected_signs"`
	InfoList       []InfoItem           `json:"info_list"`
	IsLoading      bool                 `json:"is_loading"`
	Error          string               `json:"error,omitempty"`
	IsAudioEnabled bool                 `json:"is_audio_enabled"`
	Popup          PopupView            `json:"popup"`
	Webcam         *WebcamView          `json:"webcam,omitempty"`
	Version        uint64               `json:"version"`
}

func (s *Session) viewLocked() View {
	v := View{
		ID:             s.id,
		Mode:           s.mode.String(),
		Source:         s.source,
		DetectedSigns:  append([]models.TrafficSign{}, s.signs...),
		IsLoading:      s.loading,
		Error:          s.errMsg,
		IsAudioEnabled: s.audio,
		Popup:          popupView(s.popup),
		Version:        s.version,
	}
	if s.source != nil {
		v.SourceURL = s.source.URL
	}

	if len(s.signs) == 0 && !s.loading && s.errMsg == "" {
		v.InfoList = make([]InfoItem, placeholderCount)
		for i := range v.InfoList {
			v.InfoList[i] = InfoItem{Name: Placeholder.Name, Meaning: Placeholder.Meaning, Placeholder: true}
		}
	} else {
		v.InfoList = make([]InfoItem, 0, len(s.signs))
		for _, sign := range s.signs {
			v.InfoList = append(v.InfoList, InfoItem{Name: sign.Name, Meaning: sign.Meaning})
		}
	}

	if s.mode == models.DisplayWebcam {
		v.Webcam = &WebcamView{}
		if s.webcam != nil {
			v.Webcam.Connected = true
			v.Webcam.WebcamStats = s.webcam.Stats()
		}
	}
	return v
}

func popupView(p popup) PopupView {
	switch p := p.(type) {
	case popupLoading:
		return PopupView{State: PopupLoading, Sign: &p.sign}
	case popupShowing:
		return PopupView{State: PopupShowing, Sign: &p.sign, Details: &p.details}
	case popupFailed:
		return PopupView{State: PopupFailed, Sign: &p.sign, Error: p.err}
	default:
		return PopupView{State: PopupClosed}
	}
}

// changedLocked bumps the version and pushes a state snapshot to subscribers.
func (s *Session) changedLocked() {
	s.version++
	s.broker.Publish(events.Event{Type: EventState, Data: s.viewLocked()})
}

func (s *Session) touchLocked() {
	s.lastSeen = time.Now()
}

// markClosedLocked fences off pending results; lock reports the session
// as gone from here on.
func (s *Session) markClosedLocked() {
	s.closed = true
	s.token++
	s.popupToken++
}
