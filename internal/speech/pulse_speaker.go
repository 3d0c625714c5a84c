package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
)

// espeak-ng default speaking rate in words per minute.
const baseWordsPerMinute = 175

// PulseSpeaker synthesizes with espeak-ng and plays the result on the local
// PulseAudio server.
type PulseSpeaker struct {
	command   string
	available bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPulseSpeaker(command string) *PulseSpeaker {
	if command == "" {
		command = "espeak-ng"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return &PulseSpeaker{command: command}
	}
	return &PulseSpeaker{command: path, available: true}
}

func (p *PulseSpeaker) Available() bool {
	return p.available
}

func (p *PulseSpeaker) Speak(ctx context.Context, u Utterance) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	wav, err := p.synthesize(ctx, u)
	if err != nil {
		return err
	}

	pcm, err := parseWAV(wav)
	if err != nil {
		return err
	}
	return play(ctx, pcm)
}

func (p *PulseSpeaker) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *PulseSpeaker) synthesize(ctx context.Context, u Utterance) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.command, synthArgs(u)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run %s: %w (%s)", p.command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func synthArgs(u Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	wpm := int(math.Round(baseWordsPerMinute * rate))
	return []string{"--stdout", "-v", voiceFor(u.Lang), "-s", strconv.Itoa(wpm), u.Text}
}

// voiceFor maps a BCP 47 tag to an espeak-ng voice name.
func voiceFor(lang string) string {
	base, _, _ := strings.Cut(lang, "-")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		return "vi"
	}
	return base
}

type pcmAudio struct {
	samples    []int16
	sampleRate int
	channels   int
}

// parseWAV extracts 16-bit PCM from a RIFF/WAVE file. espeak-ng writes an
// unknown length when streaming to stdout, so an oversized data chunk is
// read to the end of the buffer.
func parseWAV(data []byte) (pcmAudio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return pcmAudio{}, errors.New("not a WAV stream")
	}

	var audio pcmAudio
	haveFormat := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return pcmAudio{}, errors.New("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			audio.channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			audio.sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return pcmAudio{}, fmt.Errorf("unsupported WAV format %d/%d-bit", format, bits)
			}
			if audio.channels < 1 || audio.channels > 2 {
				return pcmAudio{}, fmt.Errorf("unsupported channel count %d", audio.channels)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return pcmAudio{}, errors.New("data chunk before fmt chunk")
			}
			end := body + size
			if size < 0 || end > len(data) || end < body {
				end = len(data)
			}
			raw := data[body:end]
			audio.samples = make([]int16, len(raw)/2)
			for i := range audio.samples {
				audio.samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			return audio, nil
		}

		pos = body + size + size%2
		if pos < body {
			break
		}
	}
	return pcmAudio{}, errors.New("no data chunk")
}

func play(ctx context.Context, audio pcmAudio) error {
	if len(audio.samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("signassist"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(audio.samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, audio.samples[cursor:])
		cursor += n
		if cursor >= len(audio.samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	layout := pulse.PlaybackMono
	if audio.channels == 2 {
		layout = pulse.PlaybackStereo
	}

	stream, err := client.NewPlayback(
		reader,
		layout,
		pulse.PlaybackSampleRate(audio.sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("signassist narration"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play narration: %w", err)
	}
	return ctx.Err()
}
