package api

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// mediaHandler serves a stored upload with range support so the browser
// can seek in videos.
func (s *server) mediaHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := s.opts.Media.OpenFile(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer f.Close()

	var modTime time.Time
	if st, ok := f.(interface{ Stat() (fs.FileInfo, error) }); ok {
		if info, err := st.Stat(); err == nil {
			modTime = info.ModTime()
		}
	}
	http.ServeContent(w, r, name, modTime, f)
}
