package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/kdimtricp/signassist/internal/media"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/session"
)

const (
	defaultMaxUploadSize = 100 << 20
	// multipartOverhead covers boundaries and part headers on top of the file.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// uploadHandler takes a multipart upload in the "file" field and makes it
// the session's image or video source.
func (s *server) uploadHandler(kind models.MediaKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		maxSize := s.opts.MaxUploadSize
		if maxSize <= 0 {
			maxSize = defaultMaxUploadSize
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeProblem(w, huma.NewError(http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", maxSize)))
				return
			}
			writeProblem(w, huma.Error400BadRequest("expected a multipart form with a file field"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeProblem(w, huma.Error400BadRequest("missing file field"))
			return
		}
		defer file.Close()

		up := media.Upload{
			Reader:      file,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}

		var view session.View
		if kind == models.MediaImage {
			view, err = s.opts.Sessions.SelectImage(r.Context(), id, up)
		} else {
			view, err = s.opts.Sessions.SelectVideo(r.Context(), id, up)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, "application/json", view)
	}
}
