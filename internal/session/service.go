// Package session holds the per-user assistant state machine: which media
// source is active, what was detected in it, and the detail popup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/signassist/internal/events"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/speech"
)

const (
	EventState         = "session.state"
	EventDetailsFailed = "popup.failed"
)

// Inference is the client the state machine calls. IdentifySigns never
// fails; GetSignDetails does.
type Inference interface {
	IdentifySigns(ctx context.Context, image []byte, mimeType string) []models.TrafficSign
	GetSignDetails(ctx context.Context, signName string) (models.DetailedSignInfo, error)
}

// FrameExtractor pulls a still out of a stored video.
type FrameExtractor interface {
	ExtractFrameAt(ctx context.Context, videoPath string, seconds float64, size int) ([]byte, error)
}

type Config struct {
	InferenceTimeout time.Duration
	IdleTTL          time.Duration
	FrameSize        int
	// NewSpeaker builds the speech output for a session from its event
	// stream. Nil means no speech capability.
	NewSpeaker func(pub speech.Publisher) speech.Speaker
}

type Service struct {
	inference Inference
	acquirer  *media.Acquirer
	frames    FrameExtractor
	cfg       Config
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// baseCtx bounds background identification and detail calls.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(inference Inference, acquirer *media.Acquirer, frames FrameExtractor, cfg Config, logger *slog.Logger) *Service {
	if cfg.InferenceTimeout == 0 {
		cfg.InferenceTimeout = 30 * time.Second
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		inference: inference,
		acquirer:  acquirer,
		frames:    frames,
		cfg:       cfg,
		logger:    logger.With("component", "session"),
		sessions:  make(map[string]*Session),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

func (svc *Service) Create() View {
	broker := events.NewBroker(EventState)
	var speaker speech.Speaker = speech.NopSpeaker{}
	if svc.cfg.NewSpeaker != nil {
		speaker = svc.cfg.NewSpeaker(broker)
	}

	sess := newSession(uuid.New().String(), broker, speech.NewAnnouncer(speaker, svc.logger))

	svc.mu.Lock()
	svc.sessions[sess.id] = sess
	svc.mu.Unlock()

	svc.logger.Info("session created", "session", sess.id)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked()
}

func (svc *Service) Get(id string) (*Session, error) {
	svc.mu.RLock()
	sess, ok := svc.sessions[id]
	svc.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return sess, nil
}

// lock returns the live session with its mutex held.
func (svc *Service) lock(id string) (*Session, error) {
	sess, err := svc.Get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, notFound(id)
	}
	sess.touchLocked()
	return sess, nil
}

func (svc *Service) View(id string) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()
	return sess.viewLocked(), nil
}

func (svc *Service) Count() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.sessions)
}

// Close tears a session down: narration stops, the stream and source are
// released and subscribers are disconnected. Pending results are dropped.
func (svc *Service) Close(ctx context.Context, id string) error {
	svc.mu.Lock()
	sess, ok := svc.sessions[id]
	delete(svc.sessions, id)
	svc.mu.Unlock()
	if !ok {
		return notFound(id)
	}

	svc.closeSession(ctx, sess)
	svc.logger.Info("session closed", "session", id)
	return nil
}

func (svc *Service) closeSession(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	sess.markClosedLocked()
	svc.teardownLocked(ctx, sess)
}

// teardownLocked stops narration, releases media and disconnects
// subscribers of a session already marked closed.
func (svc *Service) teardownLocked(ctx context.Context, sess *Session) {
	sess.announcer.Cancel()
	svc.releaseLocked(ctx, sess)
	sess.broker.Close()
}

// releaseLocked drops the active source and live stream.
func (svc *Service) releaseLocked(ctx context.Context, sess *Session) {
	if sess.webcam != nil {
		sess.webcam.Stop()
		sess.webcam = nil
	}
	if sess.source != nil {
		if err := svc.acquirer.Release(ctx, sess.source); err != nil {
			svc.logger.Warn("failed to release source", "session", sess.id, "error", err)
		}
		sess.source = nil
	}
}

// resetLocked clears everything tied to the previous source and moves to
// the mode event selects. Results still in flight for the old source are
// fenced off by the token bump.
func (svc *Service) resetLocked(ctx context.Context, sess *Session, event Event) error {
	next, err := Transition(sess.mode, event)
	if err != nil {
		return err
	}

	svc.releaseLocked(ctx, sess)
	sess.announcer.Cancel()
	sess.token++
	sess.signs = []models.TrafficSign{}
	sess.errMsg = ""
	sess.loading = false
	sess.mode = next
	return nil
}

func (svc *Service) SelectImage(ctx context.Context, id string, up media.Upload) (View, error) {
	return svc.selectFile(ctx, id, models.MediaImage, up)
}

func (svc *Service) SelectVideo(ctx context.Context, id string, up media.Upload) (View, error) {
	return svc.selectFile(ctx, id, models.MediaVideo, up)
}

func (svc *Service) selectFile(ctx context.Context, id string, kind models.MediaKind, up media.Upload) (View, error) {
	if _, err := svc.Get(id); err != nil {
		return View{}, err
	}

	event, invalidMsg := EventSelectImage, MsgInvalidImage
	if kind == models.MediaVideo {
		event, invalidMsg = EventSelectVideo, MsgInvalidVideo
	}

	contentType, verr := media.Validate(kind, up.ContentType, up.Filename)
	if verr != nil {
		sess, err := svc.lock(id)
		if err != nil {
			return View{}, err
		}
		defer sess.mu.Unlock()
		sess.errMsg = invalidMsg
		sess.changedLocked()
		svc.logger.Info("rejected upload", "session", id, "kind", kind, "content_type", up.ContentType, "filename", up.Filename)
		return sess.viewLocked(), newError(CodeValidation, invalidMsg, errors.Join(ErrInvalidMedia, verr))
	}

	// Storing a large upload must not hold the session lock.
	src, data, acqErr := svc.acquirer.Acquire(ctx, kind, contentType, up)

	sess, err := svc.lock(id)
	if err != nil {
		if acqErr == nil {
			_ = svc.acquirer.Release(context.WithoutCancel(ctx), src)
		}
		return View{}, err
	}
	defer sess.mu.Unlock()

	// A failed read keeps the previous source and mode.
	if acqErr != nil {
		svc.logger.Error("failed to acquire upload", "session", id, "kind", kind, "error", acqErr)
		sess.errMsg = MsgReadFailed
		sess.changedLocked()
		if errors.Is(acqErr, media.ErrTooLarge) {
			return sess.viewLocked(), newError(CodeValidation, acqErr.Error(), acqErr)
		}
		return sess.viewLocked(), nil
	}

	if err := svc.resetLocked(ctx, sess, event); err != nil {
		_ = svc.acquirer.Release(context.WithoutCancel(ctx), src)
		return sess.viewLocked(), err
	}

	sess.source = src
	if kind == models.MediaImage {
		sess.loading = true
		svc.identify(sess, sess.token, func(context.Context) ([]byte, string, error) {
			return data, contentType, nil
		})
	}

	svc.logger.Info("source selected", "session", id, "kind", kind, "source", src.Filename, "bytes", src.Size)
	sess.changedLocked()
	return sess.viewLocked(), nil
}

func (svc *Service) SelectWebcam(ctx context.Context, id string) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if err := svc.resetLocked(ctx, sess, EventSelectWebcam); err != nil {
		return sess.viewLocked(), err
	}
	sess.changedLocked()
	return sess.viewLocked(), nil
}

// AttachWebcam hands the browser's frame stream to the session. The
// connection is owned by the session from here on, and is closed on error.
func (svc *Service) AttachWebcam(id string, conn net.Conn) (*media.Webcam, error) {
	sess, err := svc.lock(id)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer sess.mu.Unlock()

	if sess.mode != models.DisplayWebcam {
		conn.Close()
		return nil, wrongMode("webcam stream", sess.mode)
	}

	if sess.webcam != nil {
		sess.webcam.Stop()
	}
	cam := media.NewWebcam(conn)
	sess.webcam = cam
	sess.changedLocked()

	go func() {
		<-cam.Done()
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.webcam != cam || sess.closed {
			return
		}
		sess.webcam = nil
		svc.logger.Info("webcam stream ended", "session", id, "frames", cam.Stats().Received)
		sess.changedLocked()
	}()

	return cam, nil
}

// CaptureWebcamFrame identifies signs in the latest live frame.
func (svc *Service) CaptureWebcamFrame(ctx context.Context, id string) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.mode != models.DisplayWebcam {
		return sess.viewLocked(), wrongMode("webcam capture", sess.mode)
	}
	if sess.webcam == nil {
		return sess.viewLocked(), newError(CodeConflict, "webcam stream is not connected", ErrNoFrame)
	}
	frame, ok := sess.webcam.Latest()
	if !ok {
		return sess.viewLocked(), newError(CodeConflict, ErrNoFrame.Error(), ErrNoFrame)
	}

	svc.startCaptureLocked(sess)
	svc.identify(sess, sess.token, func(context.Context) ([]byte, string, error) {
		return frame.Data, frame.MIMEType, nil
	})
	sess.changedLocked()
	return sess.viewLocked(), nil
}

// CaptureVideoFrame identifies signs in the still at the given offset of
// the current video.
func (svc *Service) CaptureVideoFrame(ctx context.Context, id string, seconds float64) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.mode != models.DisplayVideo || sess.source == nil {
		return sess.viewLocked(), wrongMode("video capture", sess.mode)
	}
	if svc.frames == nil {
		return sess.viewLocked(), newError(CodeUnavailable, "video frame extraction is not available", ErrUnavailable)
	}
	if seconds < 0 {
		return sess.viewLocked(), newError(CodeValidation, "at_seconds must not be negative", nil)
	}

	src := sess.source
	svc.startCaptureLocked(sess)
	svc.identify(sess, sess.token, func(ctx context.Context) ([]byte, string, error) {
		path, cleanup, err := svc.acquirer.LocalCopy(ctx, src)
		if err != nil {
			return nil, "", err
		}
		defer cleanup()

		frame, err := svc.frames.ExtractFrameAt(ctx, path, seconds, svc.cfg.FrameSize)
		if err != nil {
			return nil, "", err
		}
		return frame, "image/jpeg", nil
	})
	sess.changedLocked()
	return sess.viewLocked(), nil
}

// startCaptureLocked fences earlier captures without touching the source.
func (svc *Service) startCaptureLocked(sess *Session) {
	sess.announcer.Cancel()
	sess.token++
	sess.signs = []models.TrafficSign{}
	sess.errMsg = ""
	sess.loading = true
}

// identify runs one identification in the background. The result is
// applied only if token is still current when it arrives.
func (svc *Service) identify(sess *Session, token uint64, load func(ctx context.Context) ([]byte, string, error)) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()

		ctx, cancel := context.WithTimeout(svc.baseCtx, svc.cfg.InferenceTimeout)
		defer cancel()

		start := time.Now()
		image, mimeType, err := load(ctx)
		var signs []models.TrafficSign
		if err == nil {
			signs = svc.inference.IdentifySigns(ctx, image, mimeType)
		}

		sess.mu.Lock()
		defer sess.mu.Unlock()

		if sess.closed || token != sess.token {
			svc.logger.Debug("dropping stale identification", "session", sess.id, "token", token, "current", sess.token)
			return
		}

		sess.loading = false
		if err != nil {
			svc.logger.Error("failed to load frame", "session", sess.id, "error", err)
			sess.errMsg = MsgReadFailed
			sess.changedLocked()
			return
		}

		sess.signs = signs
		sess.errMsg = ""
		svc.logger.Info("identification applied", "session", sess.id, "signs", len(signs), "duration_ms", time.Since(start).Milliseconds())
		sess.changedLocked()

		if sess.audio {
			sess.announcer.Announce(signs)
		}
	}()
}

func (svc *Service) ToggleAudio(id string) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	sess.audio = !sess.audio
	if !sess.audio {
		sess.announcer.Cancel()
	}
	sess.changedLocked()
	return sess.viewLocked(), nil
}

// SelectSign opens the detail popup for sign and looks its details up in
// the background.
func (svc *Service) SelectSign(ctx context.Context, id string, sign models.TrafficSign) (View, error) {
	if !sign.Valid() {
		return View{}, newError(CodeValidation, ErrInvalidSign.Error(), ErrInvalidSign)
	}

	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if _, err := PopupTransition(sess.popup.state(), PopupEventOpen); err != nil {
		return sess.viewLocked(), err
	}
	sess.popupToken++
	token := sess.popupToken
	sess.popup = popupLoading{sign: sign}
	sess.changedLocked()

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()

		ctx, cancel := context.WithTimeout(svc.baseCtx, svc.cfg.InferenceTimeout)
		defer cancel()
		details, err := svc.inference.GetSignDetails(ctx, sign.Name)

		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.closed || token != sess.popupToken {
			svc.logger.Debug("dropping stale sign details", "session", sess.id, "sign", sign.Name)
			return
		}

		event := PopupEventLoaded
		if err != nil {
			event = PopupEventFail
		}
		if _, terr := PopupTransition(sess.popup.state(), event); terr != nil {
			svc.logger.Warn("unexpected popup transition", "session", sess.id, "error", terr)
			return
		}

		if err != nil {
			svc.logger.Warn("sign details failed", "session", sess.id, "sign", sign.Name, "error", err)
			sess.popup = popupFailed{sign: sign, err: MsgDetailsFailed}
			sess.broker.Publish(events.Event{Type: EventDetailsFailed, Data: PopupView{State: PopupFailed, Sign: &sign, Error: MsgDetailsFailed}})
		} else {
			sess.popup = popupShowing{sign: sign, details: details}
		}
		sess.changedLocked()
	}()

	return sess.viewLocked(), nil
}

// ClosePopup discards the selected sign and its details. Closing a closed
// popup changes nothing.
func (svc *Service) ClosePopup(id string) (View, error) {
	sess, err := svc.lock(id)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.popup.state() == PopupClosed {
		return sess.viewLocked(), nil
	}
	sess.popupToken++
	sess.popup = popupClosed{}
	sess.changedLocked()
	return sess.viewLocked(), nil
}

// Subscribe returns the session event stream, starting with a snapshot of
// the current state. Call the returned func to unsubscribe.
func (svc *Service) Subscribe(id string) (<-chan events.Event, func(), error) {
	sess, err := svc.lock(id)
	if err != nil {
		return nil, nil, err
	}
	defer sess.mu.Unlock()

	subID, ch := sess.broker.Subscribe()
	out := make(chan events.Event, 1)
	out <- events.Event{Type: EventState, Data: sess.viewLocked()}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		once.Do(func() {
			close(done)
			sess.broker.Unsubscribe(subID)
		})
	}
	return out, unsubscribe, nil
}

// Run reaps idle sessions until ctx is done.
func (svc *Service) Run(ctx context.Context) {
	interval := svc.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			svc.ReapIdle(ctx, now)
		}
	}
}

// ReapIdle closes sessions unused for longer than the idle TTL. Sessions
// with a connected event stream are kept.
func (svc *Service) ReapIdle(ctx context.Context, now time.Time) int {
	var reaped []*Session
	svc.mu.Lock()
	for id, sess := range svc.sessions {
		sess.mu.Lock()
		if sess.broker.ClientCount() > 0 {
			sess.touchLocked()
		} else if now.Sub(sess.lastSeen) > svc.cfg.IdleTTL {
			sess.markClosedLocked()
			delete(svc.sessions, id)
			reaped = append(reaped, sess)
		}
		sess.mu.Unlock()
	}
	svc.mu.Unlock()

	for _, sess := range reaped {
		sess.mu.Lock()
		svc.teardownLocked(ctx, sess)
		sess.mu.Unlock()
		svc.logger.Info("reaped idle session", "session", sess.id)
	}
	return len(reaped)
}

// Shutdown closes every session and waits for background calls to finish.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.mu.Lock()
	sessions := svc.sessions
	svc.sessions = make(map[string]*Session)
	svc.mu.Unlock()

	for _, sess := range sessions {
		svc.closeSession(ctx, sess)
	}
	svc.stop()

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background calls: %w", ctx.Err())
	}
}
