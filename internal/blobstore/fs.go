package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileStore is a filesystem-backed ContentStore. Blobs live under root
// and are served through the API's blob endpoint, so URLFor builds
// unsigned URLs from the configured base URL.
type FileStore struct {
	fs      afero.Fs
	root    string
	baseURL string
	log     *slog.Logger
}

// NewFileStore creates a filesystem content store rooted at root.
// baseURL is the externally reachable prefix of the blob-serving
// endpoint, e.g. "http://localhost:8080".
func NewFileStore(fs afero.Fs, root, baseURL string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root %q: %w", root, err)
	}

	return &FileStore{
		fs:      fs,
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.With("component", "blob_store"),
	}, nil
}

// Put streams r into a temporary file and renames it into place, so a
// crash mid-write never leaves a readable partial blob under key.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	dst := path.Join(s.root, cleaned)
	if err := s.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory for %q: %w", cleaned, err)
	}

	tmp := dst + ".part"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create blob file for %q: %w", cleaned, err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		if rmErr := s.fs.Remove(tmp); rmErr != nil {
			s.log.Warn("Failed to remove partial blob", "key", cleaned, "error", rmErr)
		}
		if copyErr != nil {
			return 0, fmt.Errorf("failed to write blob %q: %w", cleaned, copyErr)
		}
		return 0, fmt.Errorf("failed to close blob %q: %w", cleaned, closeErr)
	}

	if err := s.fs.Rename(tmp, dst); err != nil {
		if rmErr := s.fs.Remove(tmp); rmErr != nil {
			s.log.Warn("Failed to remove partial blob", "key", cleaned, "error", rmErr)
		}
		return 0, fmt.Errorf("failed to finalize blob %q: %w", cleaned, err)
	}

	s.log.Debug("Stored blob", "key", cleaned, "size", n)
	return n, nil
}

// Open returns a reader for the stored blob.
func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(path.Join(s.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %q: %w", cleaned, err)
	}
	return f, nil
}

// URLFor returns the serving URL for key. The filesystem store has no
// signed access, so ttl is ignored.
func (s *FileStore) URLFor(key string, _ time.Duration) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(cleaned, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return s.baseURL + "/blobs/" + strings.Join(escaped, "/"), nil
}

// cleanKey normalizes a blob key and rejects traversal outside the root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key cannot be empty")
	}

	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return cleaned, nil
}
