package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kdimtricp/signassist/internal/ai"
	"github.com/kdimtricp/signassist/internal/app"
	"github.com/kdimtricp/signassist/internal/config"
)

func main() {
	var (
		imagePath = flag.String("image", "", "Identify signs in this image")
		signName  = flag.String("sign", "", "Fetch details for this sign name")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.InferenceTimeout)
	defer cancel()

	fmt.Println("Traffic sign assistant: inference check")
	fmt.Println("=======================================")

	var lookup ai.SignLookup
	if db, signs, err := app.OpenCatalog(ctx, cfg); err != nil {
		fmt.Printf("Catalog (%s): unavailable (%v)\n", cfg.DBType, err)
	} else {
		defer db.Close()
		lookup = signs
		n, _ := signs.Count(ctx)
		fmt.Printf("Catalog (%s): %d signs\n", cfg.DBType, n)
	}

	inference, err := app.NewInference(ctx, cfg, lookup)
	if err != nil {
		slog.Error("failed to initialize inference", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Identification backend: %s\n", inference.Backend)
	if inference.Gemini != nil {
		fmt.Printf("Gemini model: %s\n", inference.Gemini.Model())
	} else {
		fmt.Println("Gemini: not configured (set GEMINI_API_KEY)")
	}
	if inference.Detector != nil {
		if err := inference.Detector.Health(ctx); err != nil {
			fmt.Printf("Detector %s: unreachable (%v)\n", cfg.DetectorURL, err)
		} else {
			fmt.Printf("Detector %s: healthy\n", cfg.DetectorURL)
		}
	}
	fmt.Printf("Sign details: %v\n", inference.HasDetails())

	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			slog.Error("failed to read image", "path", *imagePath, "error", err)
			os.Exit(1)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(*imagePath))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		fmt.Printf("\nSigns in %s:\n", *imagePath)
		for i, s := range inference.IdentifySigns(ctx, data, mimeType) {
			fmt.Printf("%d. %s\n   %s\n", i+1, s.Name, s.Meaning)
		}
	}

	if *signName != "" {
		details, err := inference.GetSignDetails(ctx, *signName)
		if err != nil {
			fmt.Printf("\nDetails for %q: %v\n", *signName, err)
			os.Exit(1)
		}
		fmt.Printf("\nDetails for %q:\n", *signName)
		fmt.Printf("  Code:       %s\n", details.SignCode)
		fmt.Printf("  Meaning:    %s\n", details.DetailedMeaning)
		fmt.Printf("  Applies to: %s\n", details.ApplicationCases)
		fmt.Printf("  Penalties:  %s\n", details.Penalties)
	}
}
