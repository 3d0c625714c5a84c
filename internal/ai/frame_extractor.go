package ai

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FrameExtractor pulls still frames out of stored videos with ffmpeg.
type FrameExtractor struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
}

func NewFrameExtractor() (*FrameExtractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	// ffprobe is optional; Duration falls back to parsing ffmpeg output.
	ffprobePath, _ := exec.LookPath("ffprobe")

	tempDir, err := os.MkdirTemp("", "signassist-frames-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	slog.Debug("frame extractor ready", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath, "temp_dir", tempDir)

	return &FrameExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
	}, nil
}

// ExtractFrameAt returns the frame at the given offset as a JPEG no larger
// than size x size. Offsets past the end are clamped to the last second.
func (fe *FrameExtractor) ExtractFrameAt(ctx context.Context, videoPath string, seconds float64, size int) ([]byte, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}
	if seconds < 0 {
		seconds = 0
	}

	if duration, err := fe.Duration(ctx, videoPath); err == nil && duration > 0 && seconds >= duration {
		seconds = max(duration-1, 0)
	}

	return fe.extractSingleFrame(ctx, videoPath, seconds, size)
}

// Duration reports the video length in seconds.
func (fe *FrameExtractor) Duration(ctx context.Context, videoPath string) (float64, error) {
	if fe.ffprobePath != "" {
		cmd := exec.CommandContext(ctx, fe.ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			videoPath)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout

		if err := cmd.Run(); err == nil {
			if duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64); err == nil && duration > 0 {
				return duration, nil
			}
		}
	}

	cmd := exec.CommandContext(ctx, fe.ffmpegPath, "-i", videoPath, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	return parseFFmpegDuration(stderr.String())
}

func parseFFmpegDuration(output string) (float64, error) {
	const durationPrefix = "Duration: "
	startIndex := strings.Index(output, durationPrefix)
	if startIndex == -1 {
		return 0, fmt.Errorf("duration not found in ffmpeg output")
	}

	startIndex += len(durationPrefix)
	endIndex := strings.Index(output[startIndex:], ",")
	if endIndex == -1 {
		return 0, fmt.Errorf("invalid duration format")
	}

	durationStr := output[startIndex : startIndex+endIndex]
	parts := strings.Split(durationStr, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration format: %s", durationStr)
	}

	var total float64
	for i, unit := range []float64{3600, 60, 1} {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", durationStr)
		}
		total += v * unit
	}
	return total, nil
}

func (fe *FrameExtractor) extractSingleFrame(ctx context.Context, videoPath string, timestamp float64, size int) ([]byte, error) {
	tempFile, err := os.CreateTemp(fe.tempDir, "frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame file: %w", err)
	}
	tempName := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempName)

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", size, size),
		"-q:v", "2",
		"-f", "mjpeg",
		tempName,
	}

	cmd := exec.CommandContext(ctx, fe.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("running ffmpeg", "args", args)
	if err := cmd.Run(); err != nil {
		slog.Warn("ffmpeg failed", "stderr", truncate(stderr.String(), 500))
		return nil, fmt.Errorf("failed to extract frame at %.2f: %w", timestamp, err)
	}

	file, err := os.Open(tempName)
	if err != nil {
		return nil, fmt.Errorf("failed to open extracted frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (fe *FrameExtractor) Cleanup() error {
	return os.RemoveAll(fe.tempDir)
}
