package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/storage"
)

var ErrTooLarge = errors.New("file exceeds maximum upload size")

// Upload is one file handed over by the transport layer.
type Upload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

// Acquirer turns uploads into stored sources.
type Acquirer struct {
	store   storage.Storage
	maxSize int64
}

func NewAcquirer(store storage.Storage, maxSize int64) *Acquirer {
	return &Acquirer{store: store, maxSize: maxSize}
}

func (a *Acquirer) Store() storage.Storage {
	return a.store
}

// Acquire stores the upload. For images the bytes are also returned so the
// caller can send them for identification without reading storage back.
// The content type must already be validated.
func (a *Acquirer) Acquire(ctx context.Context, kind models.MediaKind, contentType string, up Upload) (*models.MediaSource, []byte, error) {
	limited := io.LimitReader(up.Reader, a.maxSize+1)

	var (
		data []byte
		src  io.Reader
		size int64
	)
	if kind == models.MediaImage {
		var err error
		data, err = io.ReadAll(limited)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if int64(len(data)) > a.maxSize {
			return nil, nil, ErrTooLarge
		}
		size = int64(len(data))
		src = bytes.NewReader(data)
	} else {
		src = &countingReader{r: limited, n: &size}
	}

	name, err := a.store.SaveFile(ctx, src, storage.FileInfo{
		Filename:    up.Filename,
		ContentType: contentType,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if size > a.maxSize {
		if err := a.store.DeleteFile(ctx, name); err != nil {
			slog.Warn("failed to delete oversized upload", "name", name, "error", err)
		}
		return nil, nil, ErrTooLarge
	}

	return models.NewMediaSource(kind, name, contentType, size), data, nil
}

// Release deletes the stored object behind a source. A nil source is a
// no-op.
func (a *Acquirer) Release(ctx context.Context, src *models.MediaSource) error {
	if src == nil {
		return nil
	}
	if err := a.store.DeleteFile(ctx, src.Filename); err != nil {
		return fmt.Errorf("failed to release %s: %w", src.Filename, err)
	}
	return nil
}

// LocalCopy returns a local file path for a stored source. When the storage
// is not disk-backed the object is downloaded to a temp file that cleanup
// removes.
func (a *Acquirer) LocalCopy(ctx context.Context, src *models.MediaSource) (path string, cleanup func(), err error) {
	if lp, ok := a.store.(storage.LocalPather); ok {
		path, err := lp.LocalPath(src.Filename)
		return path, func() {}, err
	}

	r, err := a.store.OpenFile(ctx, src.Filename)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "signassist-media-*"+filepath.Ext(src.Filename))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to copy media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}
