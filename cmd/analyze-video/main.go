package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kdimtricp/signassist/internal/ai"
	"github.com/kdimtricp/signassist/internal/app"
	"github.com/kdimtricp/signassist/internal/config"
)

func main() {
	var (
		videoPath = flag.String("video", "", "Video file to analyze")
		at        = flag.Float64("at", 0, "Offset in seconds of the still to identify")
		size      = flag.Int("size", 1024, "Longest edge of the extracted still")
		out       = flag.String("out", "", "Optional path to write the extracted still")
	)
	flag.Parse()

	if *videoPath == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze-video -video path [-at seconds]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.InferenceTimeout)
	defer cancel()

	fe, err := ai.NewFrameExtractor()
	if err != nil {
		fatal("failed to initialize frame extractor", err)
	}
	defer fe.Cleanup()

	if d, err := fe.Duration(ctx, *videoPath); err == nil {
		fmt.Printf("Video: %s (%.1fs)\n", *videoPath, d)
	}

	frame, err := fe.ExtractFrameAt(ctx, *videoPath, *at, *size)
	if err != nil {
		fatal("failed to extract frame", err)
	}
	fmt.Printf("Extracted still at %.1fs (%d bytes)\n", *at, len(frame))
	if *out != "" {
		if err := os.WriteFile(*out, frame, 0o644); err != nil {
			fatal("failed to write still", err)
		}
	}

	var lookup ai.SignLookup
	if db, signs, err := app.OpenCatalog(ctx, cfg); err != nil {
		slog.Warn("sign catalog unavailable", "error", err)
	} else {
		defer db.Close()
		lookup = signs
	}

	inference, err := app.NewInference(ctx, cfg, lookup)
	if err != nil {
		fatal("failed to initialize inference", err)
	}

	signs := inference.IdentifySigns(ctx, frame, "image/jpeg")
	if ai.IsSentinel(signs) {
		fmt.Println("Identification failed:", signs[0].Meaning)
		os.Exit(1)
	}
	if len(signs) == 0 {
		fmt.Println("No traffic signs found.")
		return
	}
	for i, s := range signs {
		fmt.Printf("%d. %s\n   %s\n", i+1, s.Name, s.Meaning)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
