// Package blob reads ingest sources from a filesystem-rooted object store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
)

// Downloader fetches an object by its store-relative path.
type Downloader interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// ErrTooLarge is returned when an object exceeds the configured size limit.
var ErrTooLarge = errors.New("object too large")

// FS serves objects from a directory tree. Paths are slash-separated and
// may not escape the root.
type FS struct {
	root    string
	maxSize int64
	retries int
	backoff time.Duration
}

var _ Downloader = (*FS)(nil)

// NewFS creates an FS rooted at root. maxSize <= 0 disables the size limit.
func NewFS(root string, maxSize int64, retries int) *FS {
	return &FS{root: root, maxSize: maxSize, retries: max(retries, 0), backoff: 100 * time.Millisecond}
}

// Resolve maps objectPath onto the filesystem, rejecting traversal.
func (f *FS) Resolve(objectPath string) (string, error) {
	p := strings.TrimSpace(objectPath)
	if p == "" {
		return "", apperr.Invalid("path is required")
	}
	if strings.ContainsRune(p, 0) || strings.Contains(p, `\`) {
		return "", apperr.Invalid("path %q contains illegal characters", objectPath)
	}
	clean := path.Clean("/" + p)
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" || !fs.ValidPath(rel) {
		return "", apperr.Invalid("path %q is not a valid object path", objectPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", apperr.Invalid("path %q escapes the blob root", objectPath)
		}
	}
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// Download reads the object, retrying transient failures.
func (f *FS) Download(ctx context.Context, objectPath string) ([]byte, error) {
	full, err := f.Resolve(objectPath)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying blob read", "path", objectPath, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, apperr.FromContext(ctx.Err())
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}

		data, err := f.read(full)
		if err == nil {
			return data, nil
		}
		if !transient(err) {
			return nil, classify(objectPath, err)
		}
		lastErr = err
	}
	return nil, apperr.Dependency("blob", fmt.Errorf("read %s: %w", objectPath, lastErr))
}

func (f *FS) read(full string) ([]byte, error) {
	file, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrInvalid
	}
	if f.maxSize > 0 && info.Size() > f.maxSize {
		return nil, ErrTooLarge
	}

	var r io.Reader = file
	if f.maxSize > 0 {
		r = io.LimitReader(file, f.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func transient(err error) bool {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrInvalid),
		errors.Is(err, ErrTooLarge):
		return false
	}
	return true
}

func classify(objectPath string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrInvalid):
		return apperr.NotFound("file", objectPath)
	case errors.Is(err, ErrTooLarge):
		return apperr.Invalid("file %s exceeds the maximum upload size", objectPath)
	default:
		return apperr.Dependency("blob", fmt.Errorf("read %s: %w", objectPath, err))
	}
}
