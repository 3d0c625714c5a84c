package media

import (
	"bytes"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

var (
	jpegFrame = append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)
	pngFrame  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
)

func TestWebcamLatestFrame(t *testing.T) {
	srv, cli := net.Pipe()
	cam := NewWebcam(srv)
	defer cam.Stop()

	_, ok := cam.Latest()
	require.False(t, ok)

	require.NoError(t, wsutil.WriteClientBinary(cli, jpegFrame))
	require.Eventually(t, func() bool { return cam.Stats().Received == 1 }, time.Second, 5*time.Millisecond)

	frame, ok := cam.Latest()
	require.True(t, ok)
	require.Equal(t, "image/jpeg", frame.MIMEType)
	require.Equal(t, uint64(1), frame.Seq)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngFrame)
	require.NoError(t, wsutil.WriteClientText(cli, []byte(dataURL)))
	require.Eventually(t, func() bool { return cam.Stats().Received == 2 }, time.Second, 5*time.Millisecond)

	frame, ok = cam.Latest()
	require.True(t, ok)
	require.Equal(t, "image/png", frame.MIMEType)
	require.Equal(t, pngFrame, frame.Data)
}

func TestWebcamDropsUnreadFrames(t *testing.T) {
	srv, cli := net.Pipe()
	cam := NewWebcam(srv)
	defer cam.Stop()

	for range 3 {
		require.NoError(t, wsutil.WriteClientBinary(cli, jpegFrame))
	}
	require.Eventually(t, func() bool { return cam.Stats().Received == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(2), cam.Stats().Dropped)

	frame, ok := cam.Latest()
	require.True(t, ok)
	require.Equal(t, uint64(3), frame.Seq)

	require.NoError(t, wsutil.WriteClientBinary(cli, []byte("not an image")))
	require.NoError(t, wsutil.WriteClientText(cli, []byte("%%%")))
	require.Eventually(t, func() bool { return cam.Stats().Rejected == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(2), cam.Stats().Dropped)
}

func TestWebcamRejectsOversizedFragmentedMessage(t *testing.T) {
	srv, cli := net.Pipe()
	cam := NewWebcam(srv)
	defer cam.Stop()

	// Each fragment is under the limit, the message as a whole is not.
	const chunk = MaxFrameSize / 2
	ops := []ws.OpCode{ws.OpBinary, ws.OpContinuation, ws.OpContinuation}
	for i, op := range ops {
		payload := bytes.Repeat([]byte{0xff}, chunk)
		if i == 0 {
			copy(payload, jpegFrame)
		}
		frame := ws.NewFrame(op, i == len(ops)-1, payload)
		require.NoError(t, ws.WriteFrame(cli, ws.MaskFrame(frame)))
	}

	require.NoError(t, wsutil.WriteClientBinary(cli, jpegFrame))
	require.Eventually(t, func() bool { return cam.Stats().Received == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), cam.Stats().Rejected)

	frame, ok := cam.Latest()
	require.True(t, ok)
	require.Equal(t, jpegFrame, frame.Data)
}

func TestWebcamStopIdempotent(t *testing.T) {
	srv, cli := net.Pipe()
	cam := NewWebcam(srv)

	cam.Stop()
	cam.Stop()

	select {
	case <-cam.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	require.Error(t, wsutil.WriteClientBinary(cli, jpegFrame))
}

func TestWebcamStopsWhenClientLeaves(t *testing.T) {
	srv, cli := net.Pipe()
	cam := NewWebcam(srv)

	require.NoError(t, cli.Close())
	select {
	case <-cam.Done():
	case <-time.After(time.Second):
		t.Fatal("webcam did not stop after client disconnect")
	}
}
