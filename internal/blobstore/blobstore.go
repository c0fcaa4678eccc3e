// Package blobstore persists attachment bytes in a content store and
// hands out serving URLs for stored keys.
package blobstore

import (
	"context"
	"io"
	"time"
)

// ContentStore writes and reads attachment blobs by key. Keys are
// slash-separated paths chosen by the caller; Put is idempotent for a
// given key (a retry overwrites the same object).
type ContentStore interface {
	// Put streams r into the store under key and returns the number of
	// bytes written. A partially written object is discarded on error.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Open returns a reader for the stored blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// URLFor returns a URL under which the blob can be fetched for at
	// least ttl. Stores without signed access may ignore ttl.
	URLFor(key string, ttl time.Duration) (string, error)
}
