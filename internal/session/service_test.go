package session

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/kdimtricp/signassist/internal/ai"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/speech"
	"github.com/kdimtricp/signassist/internal/storage"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var twoWay = models.TrafficSign{Name: "Đường hai chiều", Meaning: "Đoạn đường có hai chiều xe chạy"}

type identifyCall struct {
	image    []byte
	mimeType string
}

// fakeInference answers from closures and records calls.
type fakeInference struct {
	mu       sync.Mutex
	calls    []identifyCall
	returned int
	identify func(call int) []models.TrafficSign
	details  func(name string) (models.DetailedSignInfo, error)
}

func (f *fakeInference) IdentifySigns(_ context.Context, image []byte, mimeType string) []models.TrafficSign {
	f.mu.Lock()
	f.calls = append(f.calls, identifyCall{image: image, mimeType: mimeType})
	n := len(f.calls)
	f.mu.Unlock()

	var out []models.TrafficSign
	if f.identify != nil {
		out = f.identify(n)
	}

	f.mu.Lock()
	f.returned++
	f.mu.Unlock()
	return out
}

func (f *fakeInference) GetSignDetails(_ context.Context, name string) (models.DetailedSignInfo, error) {
	if f.details == nil {
		return models.DetailedSignInfo{}, ai.ErrDetailsUnavailable
	}
	return f.details(name)
}

func (f *fakeInference) counts() (calls, returned int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls), f.returned
}

func (f *fakeInference) call(i int) identifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type harness struct {
	svc      *Service
	id       string
	storeDir string
}

func newHarness(t *testing.T, inf Inference, frames FrameExtractor, speaker speech.Speaker) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	cfg := Config{InferenceTimeout: 5 * time.Second, IdleTTL: time.Minute}
	if speaker != nil {
		cfg.NewSpeaker = func(speech.Publisher) speech.Speaker { return speaker }
	}

	svc := NewService(inf, media.NewAcquirer(store, 1<<20), frames, cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))
	})

	return &harness{svc: svc, id: svc.Create().ID, storeDir: dir}
}

func (h *harness) view(t *testing.T) View {
	t.Helper()
	v, err := h.svc.View(h.id)
	require.NoError(t, err)
	return v
}

func (h *harness) storedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(h.storeDir)
	require.NoError(t, err)
	return len(entries)
}

func imageUpload(data string) media.Upload {
	return media.Upload{Reader: strings.NewReader(data), Filename: "bien-bao.jpg", ContentType: "image/jpeg"}
}

func videoUpload() media.Upload {
	return media.Upload{Reader: strings.NewReader("mp4"), Filename: "clip.mp4", ContentType: "video/mp4"}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	require.Equal(t, code, coded.Code)
}

func TestInitialState(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	v := h.view(t)

	require.Equal(t, "idle", v.Mode)
	require.Nil(t, v.Source)
	require.Empty(t, v.SourceURL)
	require.NotNil(t, v.DetectedSigns)
	require.Empty(t, v.DetectedSigns)
	require.False(t, v.IsAudioEnabled)
	require.False(t, v.IsLoading)
	require.Equal(t, PopupClosed, v.Popup.State)

	require.Len(t, v.InfoList, 3)
	for _, item := range v.InfoList {
		require.True(t, item.Placeholder)
		require.Equal(t, Placeholder.Name, item.Name)
	}
}

func TestSelectImageIdentifies(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	h := newHarness(t, inf, nil, nil)

	v, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, "image", v.Mode)
	require.NotEmpty(t, v.SourceURL)

	require.Eventually(t, func() bool { return !h.view(t).IsLoading }, waitFor, tick)

	v = h.view(t)
	require.Equal(t, []models.TrafficSign{twoWay}, v.DetectedSigns)
	require.Empty(t, v.Error)
	require.Len(t, v.InfoList, 1)
	require.False(t, v.InfoList[0].Placeholder)

	call := inf.call(0)
	require.Equal(t, []byte("jpeg-bytes"), call.image)
	require.Equal(t, "image/jpeg", call.mimeType)
}

type failingBackend struct{}

func (failingBackend) Identify(context.Context, []byte, string) ([]models.TrafficSign, error) {
	return nil, errors.New("network unreachable")
}

func TestIdentificationFailureShowsSentinel(t *testing.T) {
	h := newHarness(t, ai.NewClient(failingBackend{}, nil, nil), nil, nil)

	_, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !h.view(t).IsLoading }, waitFor, tick)

	v := h.view(t)
	require.Len(t, v.DetectedSigns, 1)
	require.Equal(t, "Lỗi Phân Tích", v.DetectedSigns[0].Name)
	require.Empty(t, v.Error)
}

func TestInvalidImageLeavesStateUnchanged(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	h := newHarness(t, inf, nil, nil)

	_, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.view(t).DetectedSigns) == 1 }, waitFor, tick)
	before := h.view(t)

	_, err = h.svc.SelectImage(context.Background(), h.id, media.Upload{
		Reader: strings.NewReader("%PDF"), Filename: "doc.pdf", ContentType: "application/pdf",
	})
	require.ErrorIs(t, err, ErrInvalidMedia)
	requireCode(t, err, CodeValidation)

	after := h.view(t)
	require.Equal(t, before.Mode, after.Mode)
	require.Equal(t, before.SourceURL, after.SourceURL)
	require.Equal(t, before.DetectedSigns, after.DetectedSigns)
	require.Equal(t, MsgInvalidImage, after.Error)

	calls, _ := inf.counts()
	require.Equal(t, 1, calls)
}

func TestInvalidVideoRejected(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)

	_, err := h.svc.SelectVideo(context.Background(), h.id, imageUpload("x"))
	require.ErrorIs(t, err, ErrInvalidMedia)
	v := h.view(t)
	require.Equal(t, "idle", v.Mode)
	require.Equal(t, MsgInvalidVideo, v.Error)
	require.Zero(t, h.storedFiles(t))
}

func TestOversizedUploadKeepsPreviousSource(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)

	before, err := h.svc.SelectVideo(context.Background(), h.id, videoUpload())
	require.NoError(t, err)
	require.NotEmpty(t, before.SourceURL)

	_, err = h.svc.SelectImage(context.Background(), h.id, media.Upload{
		Reader: strings.NewReader(strings.Repeat("a", 1<<20+1)), Filename: "lon.jpg", ContentType: "image/jpeg",
	})
	require.ErrorIs(t, err, media.ErrTooLarge)
	requireCode(t, err, CodeValidation)

	after := h.view(t)
	require.Equal(t, "video", after.Mode)
	require.Equal(t, before.SourceURL, after.SourceURL)
	require.Equal(t, MsgReadFailed, after.Error)
	require.Equal(t, 1, h.storedFiles(t))
}

func TestSelectVideoResetsDetections(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	h := newHarness(t, inf, nil, nil)

	_, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.view(t).DetectedSigns) == 1 }, waitFor, tick)

	v, err := h.svc.SelectVideo(context.Background(), h.id, videoUpload())
	require.NoError(t, err)
	require.Equal(t, "video", v.Mode)
	require.Empty(t, v.DetectedSigns)
	require.Empty(t, v.Error)
	require.False(t, v.IsLoading)
	require.Equal(t, models.MediaVideo, v.Source.Kind)

	calls, _ := inf.counts()
	require.Equal(t, 1, calls, "video selection must not identify")
	require.Equal(t, 1, h.storedFiles(t), "previous image must be released")
}

func TestStaleIdentificationIsDropped(t *testing.T) {
	gate := make(chan struct{})
	inf := &fakeInference{identify: func(call int) []models.TrafficSign {
		if call == 1 {
			<-gate
		}
		return []models.TrafficSign{twoWay}
	}}
	h := newHarness(t, inf, nil, nil)

	_, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("old"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { c, _ := inf.counts(); return c == 1 }, waitFor, tick)

	_, err = h.svc.SelectVideo(context.Background(), h.id, videoUpload())
	require.NoError(t, err)

	close(gate)
	require.Eventually(t, func() bool { _, r := inf.counts(); return r == 1 }, waitFor, tick)
	// The apply step runs after the fake returns; give it a moment.
	time.Sleep(20 * time.Millisecond)

	v := h.view(t)
	require.Equal(t, "video", v.Mode)
	require.Empty(t, v.DetectedSigns)
	require.False(t, v.IsLoading)
}

// recordingSpeaker plays until cancelled.
type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
	active int
}

func (s *recordingSpeaker) Speak(ctx context.Context, u speech.Utterance) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, u.Text)
	s.active++
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil
}

func (s *recordingSpeaker) Cancel()         {}
func (s *recordingSpeaker) Available() bool { return true }

func (s *recordingSpeaker) state() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spoken), s.active
}

func TestAudioNarrationAndToggleOff(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	sp := &recordingSpeaker{}
	h := newHarness(t, inf, nil, sp)

	_, err := h.svc.SelectImage(context.Background(), h.id, imageUpload("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !h.view(t).IsLoading }, waitFor, tick)
	n, _ := sp.state()
	require.Zero(t, n, "audio is off by default")

	v, err := h.svc.ToggleAudio(h.id)
	require.NoError(t, err)
	require.True(t, v.IsAudioEnabled)

	_, err = h.svc.SelectImage(context.Background(), h.id, imageUpload("y"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, a := sp.state(); return a == 1 }, waitFor, tick)

	sp.mu.Lock()
	require.Equal(t, speech.Compose([]models.TrafficSign{twoWay}), sp.spoken[0])
	sp.mu.Unlock()

	v, err = h.svc.ToggleAudio(h.id)
	require.NoError(t, err)
	require.False(t, v.IsAudioEnabled)
	_, active := sp.state()
	require.Zero(t, active, "narration must stop when audio is toggled off")
}

func TestPopupLifecycle(t *testing.T) {
	full := models.DetailedSignInfo{SignCode: "I.407a", DetailedMeaning: "a", ApplicationCases: "b", Penalties: "c"}
	inf := &fakeInference{details: func(name string) (models.DetailedSignInfo, error) {
		if name == twoWay.Name {
			return full, nil
		}
		return models.DetailedSignInfo{}, ai.ErrDetailsUnavailable
	}}
	h := newHarness(t, inf, nil, nil)

	v, err := h.svc.SelectSign(context.Background(), h.id, twoWay)
	require.NoError(t, err)
	require.Equal(t, PopupLoading, v.Popup.State)
	require.Equal(t, twoWay, *v.Popup.Sign)
	require.Nil(t, v.Popup.Details)

	require.Eventually(t, func() bool { return h.view(t).Popup.State == PopupShowing }, waitFor, tick)
	require.Equal(t, full, *h.view(t).Popup.Details)

	v, err = h.svc.ClosePopup(h.id)
	require.NoError(t, err)
	require.Equal(t, PopupView{State: PopupClosed}, v.Popup)

	other := models.TrafficSign{Name: "Cấm rẽ trái", Meaning: "Cấm rẽ trái"}
	_, err = h.svc.SelectSign(context.Background(), h.id, other)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.view(t).Popup.State == PopupFailed }, waitFor, tick)
	v = h.view(t)
	require.Equal(t, MsgDetailsFailed, v.Popup.Error)
	require.Nil(t, v.Popup.Details)

	v, err = h.svc.ClosePopup(h.id)
	require.NoError(t, err)
	require.Equal(t, PopupView{State: PopupClosed}, v.Popup)
}

func TestClosePopupIdempotent(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	before := h.view(t)

	v, err := h.svc.ClosePopup(h.id)
	require.NoError(t, err)
	require.Equal(t, before, v)

	v, err = h.svc.ClosePopup(h.id)
	require.NoError(t, err)
	require.Equal(t, before.Version, v.Version)
}

func TestStaleDetailsAreDropped(t *testing.T) {
	gate := make(chan struct{})
	inf := &fakeInference{details: func(string) (models.DetailedSignInfo, error) {
		<-gate
		return models.DetailedSignInfo{SignCode: "x", DetailedMeaning: "x", ApplicationCases: "x", Penalties: "x"}, nil
	}}
	h := newHarness(t, inf, nil, nil)

	_, err := h.svc.SelectSign(context.Background(), h.id, twoWay)
	require.NoError(t, err)
	_, err = h.svc.ClosePopup(h.id)
	require.NoError(t, err)

	close(gate)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, PopupClosed, h.view(t).Popup.State)
}

func TestSelectSignValidation(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	_, err := h.svc.SelectSign(context.Background(), h.id, models.TrafficSign{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidSign)
	requireCode(t, err, CodeValidation)
}

var jpegFrame = append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)

func TestWebcamCapture(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	h := newHarness(t, inf, nil, nil)
	ctx := context.Background()

	srv, cli := net.Pipe()
	_, err := h.svc.AttachWebcam(h.id, srv)
	require.ErrorIs(t, err, ErrWrongMode)
	require.Error(t, wsutil.WriteClientBinary(cli, jpegFrame), "rejected stream must be closed")

	v, err := h.svc.SelectWebcam(ctx, h.id)
	require.NoError(t, err)
	require.Equal(t, "webcam", v.Mode)
	require.False(t, v.Webcam.Connected)

	_, err = h.svc.CaptureWebcamFrame(ctx, h.id)
	require.ErrorIs(t, err, ErrNoFrame)

	srv, cli = net.Pipe()
	cam, err := h.svc.AttachWebcam(h.id, srv)
	require.NoError(t, err)
	require.True(t, h.view(t).Webcam.Connected)

	_, err = h.svc.CaptureWebcamFrame(ctx, h.id)
	require.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, wsutil.WriteClientBinary(cli, jpegFrame))
	require.Eventually(t, func() bool { return cam.Stats().Received == 1 }, waitFor, tick)

	v, err = h.svc.CaptureWebcamFrame(ctx, h.id)
	require.NoError(t, err)
	require.True(t, v.IsLoading)
	require.Eventually(t, func() bool { return len(h.view(t).DetectedSigns) == 1 }, waitFor, tick)
	require.Equal(t, "image/jpeg", inf.call(0).mimeType)

	_, err = h.svc.SelectImage(ctx, h.id, imageUpload("x"))
	require.NoError(t, err)
	select {
	case <-cam.Done():
	case <-time.After(waitFor):
		t.Fatal("webcam not stopped on mode switch")
	}
}

type fakeFrames struct {
	path    string
	seconds float64
}

func (f *fakeFrames) ExtractFrameAt(_ context.Context, path string, seconds float64, _ int) ([]byte, error) {
	f.path, f.seconds = path, seconds
	return jpegFrame, nil
}

func TestCaptureVideoFrame(t *testing.T) {
	inf := &fakeInference{identify: func(int) []models.TrafficSign { return []models.TrafficSign{twoWay} }}
	frames := &fakeFrames{}
	h := newHarness(t, inf, frames, nil)
	ctx := context.Background()

	_, err := h.svc.CaptureVideoFrame(ctx, h.id, 1)
	require.ErrorIs(t, err, ErrWrongMode)

	v, err := h.svc.SelectVideo(ctx, h.id, videoUpload())
	require.NoError(t, err)

	_, err = h.svc.CaptureVideoFrame(ctx, h.id, -1)
	requireCode(t, err, CodeValidation)

	_, err = h.svc.CaptureVideoFrame(ctx, h.id, 2.5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.view(t).DetectedSigns) == 1 }, waitFor, tick)
	require.Equal(t, 2.5, frames.seconds)
	require.Equal(t, filepath.Join(h.storeDir, v.Source.Filename), frames.path)
}

func TestCaptureVideoFrameUnavailable(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	_, err := h.svc.SelectVideo(context.Background(), h.id, videoUpload())
	require.NoError(t, err)

	_, err = h.svc.CaptureVideoFrame(context.Background(), h.id, 0)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSubscribeAndClose(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)

	ch, unsubscribe, err := h.svc.Subscribe(h.id)
	require.NoError(t, err)
	defer unsubscribe()

	first := <-ch
	require.Equal(t, EventState, first.Type)
	require.Equal(t, "idle", first.Data.(View).Mode)

	_, err = h.svc.ToggleAudio(h.id)
	require.NoError(t, err)
	next := <-ch
	require.True(t, next.Data.(View).IsAudioEnabled)

	require.NoError(t, h.svc.Close(context.Background(), h.id))
	timeout := time.After(waitFor)
	for open := true; open; {
		select {
		case _, open = <-ch:
		case <-timeout:
			t.Fatal("event stream not closed")
		}
	}

	_, err = h.svc.View(h.id)
	require.ErrorIs(t, err, ErrSessionNotFound)
	requireCode(t, h.svc.Close(context.Background(), h.id), CodeNotFound)
}

func TestReapIdle(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	_, err := h.svc.SelectVideo(context.Background(), h.id, videoUpload())
	require.NoError(t, err)

	require.Zero(t, h.svc.ReapIdle(context.Background(), time.Now()))
	require.Equal(t, 1, h.svc.ReapIdle(context.Background(), time.Now().Add(time.Hour)))
	require.Zero(t, h.svc.Count())
	require.Zero(t, h.storedFiles(t), "reaped session must release its source")
}

func TestReapIdleKeepsSessionTouchedWhileReaping(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	sess, err := h.svc.Get(h.id)
	require.NoError(t, err)

	sess.mu.Lock()
	sess.lastSeen = time.Now().Add(-time.Hour)
	reaped := make(chan int, 1)
	go func() { reaped <- h.svc.ReapIdle(context.Background(), time.Now()) }()
	// The reaper waits on the session lock while the session is in use.
	time.Sleep(20 * time.Millisecond)
	sess.touchLocked()
	sess.mu.Unlock()

	require.Zero(t, <-reaped)
	require.Equal(t, 1, h.svc.Count())
	_, err = h.svc.View(h.id)
	require.NoError(t, err)
}

func TestReapedSessionRejectsLateCallers(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	sess, err := h.svc.Get(h.id)
	require.NoError(t, err)

	require.Equal(t, 1, h.svc.ReapIdle(context.Background(), time.Now().Add(time.Hour)))

	// A caller that looked the session up before the reap sees it closed.
	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	require.True(t, closed)
	_, err = h.svc.ToggleAudio(h.id)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSpeechCancelSurvivesStateBurst(t *testing.T) {
	gate := make(chan struct{})
	inf := &fakeInference{details: func(string) (models.DetailedSignInfo, error) {
		<-gate
		return models.DetailedSignInfo{}, ai.ErrDetailsUnavailable
	}}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewService(inf, media.NewAcquirer(store, 1<<20), nil, Config{
		InferenceTimeout: 5 * time.Second,
		IdleTTL:          time.Minute,
		NewSpeaker:       func(pub speech.Publisher) speech.Speaker { return speech.NewBrowserSpeaker(pub) },
	}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))
	})
	t.Cleanup(func() { close(gate) })
	id := svc.Create().ID

	_, err = svc.ToggleAudio(id)
	require.NoError(t, err)

	ch, unsubscribe, err := svc.Subscribe(id)
	require.NoError(t, err)
	defer unsubscribe()

	for i := 0; i < 80; i++ {
		_, err := svc.SelectSign(context.Background(), id, twoWay)
		require.NoError(t, err)
	}
	v, err := svc.ToggleAudio(id)
	require.NoError(t, err)
	require.False(t, v.IsAudioEnabled)

	timeout := time.After(waitFor)
	for {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "stream closed before the cancel cue")
			if evt.Type == speech.EventCancel {
				return
			}
		case <-timeout:
			t.Fatal("speech cancel cue not delivered")
		}
	}
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t, &fakeInference{}, nil, nil)
	_, err := h.svc.ToggleAudio("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.SelectImage(context.Background(), "missing", imageUpload("x"))
	require.ErrorIs(t, err, ErrSessionNotFound)
}
