// Package enrich derives text from stored attachment blobs: image
// descriptions and audio transcriptions produced by the AI service and
// written back to the archive.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"tgarchive/internal/database"
	"tgarchive/internal/gemini"
)

// ErrNotEnrichable is returned for attachment kinds with no enrichment
// policy, or when the blob is not stored yet.
var ErrNotEnrichable = errors.New("enrich: attachment not enrichable")

// Store is the slice of archive persistence used by enrichment.
type Store interface {
	GetAttachment(ctx context.Context, id int64) (*database.Attachment, error)
	SetAttachmentDescription(ctx context.Context, id int64, text string) error
	SetAttachmentTranscription(ctx context.Context, id int64, text string) error
	AttachmentsPendingEnrichment(ctx context.Context, limit int) ([]*database.Attachment, error)
}

// BlobOpener reads stored attachment bytes by storage key.
type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options tunes one enrichment call.
type Options struct {
	// Prompt overrides the default prompt for the attachment's kind.
	Prompt string
	// Force regenerates even when the target field is already set.
	Force bool
}

// Orchestrator runs enrichment jobs on a bounded worker pool. Jobs are
// all-or-nothing: a failed job leaves the attachment untouched, to be
// retried by the backfill scan.
type Orchestrator struct {
	store   Store
	blobs   BlobOpener
	ai      gemini.Client
	log     *slog.Logger
	pool    *ants.Pool
	timeout time.Duration
}

// NewOrchestrator creates an enrichment orchestrator with workers
// goroutines. timeout bounds each enrichment job.
func NewOrchestrator(store Store, blobs BlobOpener, ai gemini.Client, workers int, timeout time.Duration, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment pool: %w", err)
	}

	return &Orchestrator{
		store:   store,
		blobs:   blobs,
		ai:      ai,
		log:     logger.With("component", "enrich_orchestrator"),
		pool:    pool,
		timeout: timeout,
	}, nil
}

// Enqueue submits an attachment for asynchronous enrichment. Returns
// false when the pool is saturated or released; rejected attachments
// stay pending and are picked up by Backfill.
func (o *Orchestrator) Enqueue(attachmentID int64) bool {
	err := o.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()

		att, err := o.store.GetAttachment(ctx, attachmentID)
		if err != nil {
			o.log.WarnContext(ctx, "Failed to load attachment for enrichment", "attachment_id", attachmentID, "error", err)
			return
		}

		if _, err := o.Enrich(ctx, att, Options{}); err != nil && !errors.Is(err, ErrNotEnrichable) {
			o.log.WarnContext(ctx, "Enrichment job failed", "attachment_id", attachmentID, "error", err)
		}
	})
	if err != nil {
		o.log.Warn("Enrichment pool rejected job", "attachment_id", attachmentID, "error", err)
		return false
	}
	return true
}

// Enrich derives the attachment's target field synchronously and writes
// it back. An already populated field is returned as-is unless
// opts.Force is set. A failed derivation writes nothing.
func (o *Orchestrator) Enrich(ctx context.Context, att *database.Attachment, opts Options) (string, error) {
	field := att.EnrichmentField()
	if field == "" {
		return "", fmt.Errorf("%w: kind %s (attachment %d)", ErrNotEnrichable, att.Kind, att.ID)
	}
	if current := att.EnrichmentValue(); current != "" && !opts.Force {
		return current, nil
	}
	if att.StorageKey == "" {
		return "", fmt.Errorf("%w: blob not stored yet (attachment %d)", ErrNotEnrichable, att.ID)
	}

	data, err := o.readBlob(ctx, att.StorageKey)
	if err != nil {
		return "", err
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = fallbackMimeType(att.Kind)
	}

	var text string
	switch field {
	case "description":
		text, err = o.ai.Describe(ctx, data, mimeType, opts.Prompt)
	case "transcription":
		text, err = o.ai.Transcribe(ctx, data, mimeType, opts.Prompt)
	}
	if err != nil {
		return "", fmt.Errorf("failed to enrich attachment %d: %w", att.ID, err)
	}

	switch field {
	case "description":
		err = o.store.SetAttachmentDescription(ctx, att.ID, text)
	case "transcription":
		err = o.store.SetAttachmentTranscription(ctx, att.ID, text)
	}
	if err != nil {
		return "", fmt.Errorf("failed to save enrichment for attachment %d: %w", att.ID, err)
	}

	o.log.InfoContext(ctx, "Attachment enriched", "attachment_id", att.ID, "kind", att.Kind, "field", field, "length", len(text))
	return text, nil
}

// Backfill queues pending attachments whose enrichment never completed.
// Returns the number queued; rejected submissions wait for a later scan.
func (o *Orchestrator) Backfill(ctx context.Context, limit int) (int, error) {
	pending, err := o.store.AttachmentsPendingEnrichment(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	queued := 0
	for _, att := range pending {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		if o.Enqueue(att.ID) {
			queued++
		}
	}

	o.log.InfoContext(ctx, "Enrichment backfill queued", "pending", len(pending), "queued", queued)
	return queued, nil
}

// Close releases the worker pool. Queued jobs may be dropped.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

func (o *Orchestrator) readBlob(ctx context.Context, key string) ([]byte, error) {
	r, err := o.blobs.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %q: %w", key, err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			o.log.WarnContext(ctx, "Failed to close blob reader", "key", key, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %q: %w", key, err)
	}
	return data, nil
}

func fallbackMimeType(kind string) string {
	switch kind {
	case database.KindPhoto:
		return "image/jpeg"
	case database.KindSticker:
		return "image/webp"
	case database.KindVoice:
		return "audio/ogg"
	case database.KindAudio:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
