package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// MaxFrameSize bounds a single webcam frame message.
const MaxFrameSize = 8 << 20

// Frame is one still from the live stream.
type Frame struct {
	Data       []byte
	MIMEType   string
	Seq        uint64
	ReceivedAt time.Time
}

// WebcamStats is a snapshot of stream counters.
type WebcamStats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
}

// Webcam is the live stream handle. The browser pushes frames over a
// WebSocket, either as binary image bytes or as data URLs in text messages.
// Only the latest frame is kept; a frame replaced before anyone read it
// counts as dropped.
type Webcam struct {
	conn net.Conn

	mu       sync.Mutex
	frame    *Frame
	consumed bool
	seq      uint64

	received atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

// NewWebcam starts reading frames from an upgraded connection.
func NewWebcam(conn net.Conn) *Webcam {
	w := &Webcam{conn: conn, done: make(chan struct{})}
	go w.readLoop()
	return w
}

func (w *Webcam) readLoop() {
	defer w.Stop()

	// Frames from the browser are masked client frames.
	reader := wsutil.NewReader(w.conn, ws.StateServerSide)
	for {
		hdr, err := reader.NextFrame()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("webcam stream ended", "error", err)
			}
			return
		}

		if hdr.OpCode.IsControl() {
			if err := wsutil.ControlFrameHandler(w.conn, ws.StateServerSide)(hdr, reader); err != nil {
				slog.Debug("webcam control frame", "error", err)
				return
			}
			continue
		}

		if hdr.Length > MaxFrameSize {
			w.rejected.Add(1)
			if err := reader.Discard(); err != nil {
				return
			}
			continue
		}

		// The header only covers the first fragment of a message.
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(io.LimitReader(reader, MaxFrameSize+1)); err != nil {
			slog.Debug("webcam frame read failed", "error", err)
			return
		}
		if buf.Len() > MaxFrameSize {
			w.rejected.Add(1)
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return
			}
			continue
		}

		data := buf.Bytes()
		if hdr.OpCode == ws.OpText {
			decoded, ok := decodeDataURL(string(data))
			if !ok {
				w.rejected.Add(1)
				continue
			}
			data = decoded
		}
		w.push(data)
	}
}

func (w *Webcam) push(data []byte) {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		w.rejected.Add(1)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frame != nil && !w.consumed {
		w.dropped.Add(1)
	}
	w.seq++
	w.frame = &Frame{Data: data, MIMEType: mimeType, Seq: w.seq, ReceivedAt: time.Now()}
	w.consumed = false
	w.received.Add(1)
}

// Latest returns the newest frame without blocking.
func (w *Webcam) Latest() (Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frame == nil {
		return Frame{}, false
	}
	w.consumed = true
	return *w.frame, true
}

func (w *Webcam) Stats() WebcamStats {
	return WebcamStats{
		Received: w.received.Load(),
		Dropped:  w.dropped.Load(),
		Rejected: w.rejected.Load(),
	}
}

// Stop releases the stream. Safe to call any number of times.
func (w *Webcam) Stop() {
	w.stopOnce.Do(func() {
		w.conn.Close()
		close(w.done)
	})
}

// Done is closed once the stream is stopped.
func (w *Webcam) Done() <-chan struct{} {
	return w.done
}

func decodeDataURL(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
