package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tgarchive/internal/blobstore"
	"tgarchive/internal/database"
	"tgarchive/internal/telegram"
)

// ErrBlobTooLarge marks a download aborted for exceeding the configured
// blob size limit. Nothing is stored; the attachment keeps an empty
// storage key.
var ErrBlobTooLarge = errors.New("ingest: blob exceeds size limit")

// BlobDownloader materializes one attachment blob in the content store
// and returns its storage key and size.
type BlobDownloader interface {
	Fetch(ctx context.Context, blob *database.PendingBlob) (string, int64, error)
}

// BlobFetcher downloads attachment bytes from the platform file API and
// streams them into the content store. Failures are isolated: the
// attachment row keeps an empty storage key and is retried by the
// recovery scan.
type BlobFetcher struct {
	resolver telegram.FileResolver
	store    blobstore.ContentStore
	client   *http.Client
	log      *slog.Logger
	timeout  time.Duration
	maxSize  int64
}

// NewBlobFetcher creates a blob fetcher. timeout bounds each download;
// maxSize caps blob size in bytes (0 means unlimited).
func NewBlobFetcher(resolver telegram.FileResolver, store blobstore.ContentStore, timeout time.Duration, maxSize int64, logger *slog.Logger) *BlobFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &BlobFetcher{
		resolver: resolver,
		store:    store,
		client:   &http.Client{Timeout: timeout},
		log:      logger.With("component", "blob_fetcher"),
		timeout:  timeout,
		maxSize:  maxSize,
	}
}

// Fetch resolves the platform file, streams it into the content store
// and returns the storage key and stored size. The store write is
// atomic, so a failed fetch leaves no partial blob behind.
func (f *BlobFetcher) Fetch(ctx context.Context, blob *database.PendingBlob) (string, int64, error) {
	if blob.FileID == "" {
		return "", 0, fmt.Errorf("attachment %d has no platform file id", blob.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url, filePath, err := f.resolver.ResolveFile(ctx, blob.FileID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve file for attachment %d: %w", blob.ID, err)
	}

	name := blob.FileName
	if name == "" {
		name = derivedFilename(blob.Kind, blob.TelegramUserID, blob.MessageTimestamp, filePath)
	}
	key := blobKey(blob.TelegramUserID, blob.TelegramMessageID, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build download request for attachment %d: %w", blob.ID, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download attachment %d: %w", blob.ID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.log.WarnContext(ctx, "Failed to close download body", "attachment_id", blob.ID, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download for attachment %d returned status %d", blob.ID, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxSize > 0 {
		// The cap must trip before the store finalizes the blob, so the
		// reader errors mid-copy and the store discards its temp file.
		body = &cappedReader{r: resp.Body, remaining: f.maxSize}
	}

	size, err := f.store.Put(ctx, key, body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store blob for attachment %d: %w", blob.ID, err)
	}

	f.log.DebugContext(ctx, "Attachment blob stored", "attachment_id", blob.ID, "key", key, "size", size)
	return key, size, nil
}

// cappedReader passes through at most remaining bytes and then fails
// with ErrBlobTooLarge, instead of reporting a clean EOF like
// io.LimitReader would.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// Only an error if the source still has bytes to give.
		var peek [1]byte
		if n, err := c.r.Read(peek[:]); n > 0 {
			return 0, ErrBlobTooLarge
		} else if err != nil && err != io.EOF {
			return 0, err
		}
		return 0, io.EOF
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}
