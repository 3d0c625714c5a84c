package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/signassist/internal/ai"
	"github.com/kdimtricp/signassist/internal/api"
	"github.com/kdimtricp/signassist/internal/app"
	"github.com/kdimtricp/signassist/internal/config"
	"github.com/kdimtricp/signassist/internal/logging"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFile, cfg.LogFormat)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}
	defer logFile.Close()

	slog.Info("config loaded",
		"addr", cfg.ServerAddress(),
		"storage", cfg.StorageType,
		"db", cfg.DBType,
		"backend", cfg.InferenceBackend,
		"speaker", cfg.Speaker,
		"max_upload_size", cfg.MaxUploadSize,
		"session_ttl", cfg.SessionIdleTTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, signs, err := app.OpenCatalog(ctx, cfg)
	if err != nil {
		slog.Error("failed to open sign catalog", "db", cfg.DBType, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if n, err := signs.Count(ctx); err == nil {
		slog.Info("sign catalog ready", "signs", n)
	}

	store, err := app.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "type", cfg.StorageType, "error", err)
		os.Exit(1)
	}

	inference, err := app.NewInference(ctx, cfg, signs)
	if err != nil {
		slog.Error("failed to initialize inference", "backend", cfg.InferenceBackend, "error", err)
		os.Exit(1)
	}

	var frames session.FrameExtractor
	if fe, err := ai.NewFrameExtractor(); err != nil {
		slog.Warn("video frame capture disabled", "error", err)
	} else {
		defer fe.Cleanup()
		frames = fe
	}

	svc := session.NewService(inference, media.NewAcquirer(store, cfg.MaxUploadSize), frames, session.Config{
		InferenceTimeout: cfg.InferenceTimeout,
		IdleTTL:          cfg.SessionIdleTTL,
		NewSpeaker:       app.SpeakerFactory(cfg),
	}, slog.Default())
	go svc.Run(ctx)

	h := api.NewServer(api.Options{
		Sessions:      svc,
		Signs:         signs,
		Media:         store,
		SignImagesDir: cfg.SignImagesDir,
		MaxUploadSize: cfg.MaxUploadSize,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams and webcam sockets only end when their session does.
	srv.RegisterOnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			slog.Error("session shutdown failed", "error", err)
		}
	})

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "docs", "http://"+srv.Addr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
