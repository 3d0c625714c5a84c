package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrNotFound    = errors.New("file not found")
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage holds uploaded media. Names returned by SaveFile are the only
// names the other methods accept.
type Storage interface {
	SaveFile(ctx context.Context, r io.Reader, info FileInfo) (string, error)
	OpenFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
	DeleteFile(ctx context.Context, name string) error
}

// LocalPather is implemented by storages that keep files on the local disk.
type LocalPather interface {
	LocalPath(name string) (string, error)
}

// cleanName rejects anything that is not a plain file name.
func cleanName(name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || clean == "." || strings.Contains(clean, "..") || strings.ContainsAny(clean, `/\`) {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func extension(info FileInfo) string {
	ext := strings.ToLower(filepath.Ext(info.Filename))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return ".bin"
	}
	return ext
}
