// Package api exposes the assistant sessions over HTTP: JSON operations
// through huma, plus raw chi routes for uploads, event streams, the webcam
// socket and media files.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kdimtricp/signassist/internal/database"
	"github.com/kdimtricp/signassist/internal/events"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/session"
	"github.com/kdimtricp/signassist/internal/storage"
)

// Sessions is the session state machine as seen by the HTTP layer.
type Sessions interface {
	Create() session.View
	View(id string) (session.View, error)
	Close(ctx context.Context, id string) error
	Count() int
	SelectImage(ctx context.Context, id string, up media.Upload) (session.View, error)
	SelectVideo(ctx context.Context, id string, up media.Upload) (session.View, error)
	SelectWebcam(ctx context.Context, id string) (session.View, error)
	AttachWebcam(id string, conn net.Conn) (*media.Webcam, error)
	CaptureWebcamFrame(ctx context.Context, id string) (session.View, error)
	CaptureVideoFrame(ctx context.Context, id string, seconds float64) (session.View, error)
	ToggleAudio(id string) (session.View, error)
	SelectSign(ctx context.Context, id string, sign models.TrafficSign) (session.View, error)
	ClosePopup(id string) (session.View, error)
	Subscribe(id string) (<-chan events.Event, func(), error)
}

// SignCatalog looks up catalog rows by class code.
type SignCatalog interface {
	GetByCode(ctx context.Context, code string) (models.SignInfo, error)
}

type Options struct {
	Sessions Sessions
	// Signs is optional; without it the catalog endpoint reports 503.
	Signs         SignCatalog
	Media         storage.Storage
	SignImagesDir string
	MaxUploadSize int64
	Version       string
}

type server struct {
	opts Options
}

type healthOutput struct {
	Body struct {
		Status   string `json:"status"`
		Version  string `json:"version,omitempty"`
		Sessions int    `json:"sessions"`
	}
}

func NewServer(opts Options) http.Handler {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &server{opts: opts}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Traffic Sign Assistant API", opts.Version)
	api := humachi.New(router, cfg)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Service health",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.Version = opts.Version
		out.Body.Sessions = opts.Sessions.Count()
		return out, nil
	})

	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("pong")); err != nil {
			slog.Debug("ping response write failed", "error", err)
		}
	})

	registerSessionHandlers(api, opts.Sessions)
	registerSignHandlers(api, opts.Signs)

	router.Post("/api/sessions/{id}/image", s.uploadHandler(models.MediaImage))
	router.Post("/api/sessions/{id}/video", s.uploadHandler(models.MediaVideo))
	router.Get("/api/sessions/{id}/events", s.eventsHandler)
	router.Get("/api/sessions/{id}/webcam/stream", s.webcamStreamHandler)
	if opts.Media != nil {
		router.Get("/media/{name}", s.mediaHandler)
	}
	if opts.SignImagesDir != "" {
		router.Handle("/sign-images/*", http.StripPrefix("/sign-images", http.FileServer(http.Dir(opts.SignImagesDir))))
	}

	return router
}

func mapErr(err error) huma.StatusError {
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeValidation:
			if errors.Is(err, media.ErrTooLarge) {
				return huma.NewError(http.StatusRequestEntityTooLarge, coded.Message)
			}
			return huma.Error400BadRequest(coded.Message)
		case session.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case session.CodeConflict:
			return huma.Error409Conflict(coded.Message)
		case session.CodeUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, database.ErrSignNotFound), errors.Is(err, storage.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, storage.ErrInvalidPath):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

// writeErr renders err the same way huma renders operation errors.
func writeErr(w http.ResponseWriter, err error) {
	writeProblem(w, mapErr(err))
}

func writeProblem(w http.ResponseWriter, se huma.StatusError) {
	writeJSON(w, se.GetStatus(), "application/problem+json", se)
}

func writeJSON(w http.ResponseWriter, status int, contentType string, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}
