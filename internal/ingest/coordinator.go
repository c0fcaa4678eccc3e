package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tgarchive/internal/database"
	"tgarchive/internal/telegram"
)

// ErrRunInProgress is returned when an ingestion run is requested while
// another one is still executing. Runs are single-flight.
var ErrRunInProgress = errors.New("ingest: run already in progress")

// Enricher accepts attachment ids for asynchronous enrichment. Enqueue
// reports whether the attachment was accepted; rejected attachments are
// picked up later by the enrichment backfill.
type Enricher interface {
	Enqueue(attachmentID int64) bool
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	Fetched          int      `json:"fetched"`
	Persisted        int      `json:"persisted"`
	Skipped          int      `json:"skipped"`
	Downloaded       int      `json:"downloaded"`
	DownloadFailures int      `json:"download_failures"`
	EnrichmentQueued int      `json:"enrichment_queued"`
	LastUpdateID     int64    `json:"last_update_id"`
	Errors           []string `json:"errors,omitempty"`
}

// Coordinator drives one ingestion cycle: fetch updates past the
// cursor, normalize and persist them, download attachment blobs, commit
// the cursor, then hand enrichable attachments to the orchestrator.
//
// The cursor is committed only after every update in the batch has been
// persisted, so a crash mid-run replays the whole batch; persistence is
// idempotent, so the replay is harmless.
type Coordinator struct {
	source   telegram.UpdateSource
	store    database.Store
	blobs    BlobDownloader
	enricher Enricher
	log      *slog.Logger

	downloadConcurrency int
	running             atomic.Bool
}

// NewCoordinator creates an ingestion coordinator. enricher may be nil
// to disable inline enrichment queueing.
func NewCoordinator(source telegram.UpdateSource, store database.Store, blobs BlobDownloader, enricher Enricher, downloadConcurrency int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if downloadConcurrency <= 0 {
		downloadConcurrency = 4
	}

	return &Coordinator{
		source:              source,
		store:               store,
		blobs:               blobs,
		enricher:            enricher,
		log:                 logger.With("component", "ingest_coordinator"),
		downloadConcurrency: downloadConcurrency,
	}
}

// RunOnce executes one ingestion cycle and returns its summary. Only
// one run executes at a time; concurrent calls get ErrRunInProgress.
//
// Failure semantics: a fetch failure aborts before any write; a store
// failure aborts without committing the cursor, so the batch replays on
// the next run; unsupported updates and attachment download failures
// are recorded in the summary and never abort the batch.
func (c *Coordinator) RunOnce(ctx context.Context) (*Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	summary := &Summary{}

	cursor, err := c.store.LoadCursor(ctx)
	if err != nil {
		return summary, err
	}
	summary.LastUpdateID = cursor

	updates, err := c.source.FetchSince(ctx, cursor)
	if err != nil {
		return summary, err
	}
	summary.Fetched = len(updates)
	if len(updates) == 0 {
		c.log.DebugContext(ctx, "No new updates", "cursor", cursor)
		return summary, nil
	}

	maxID := cursor
	var pending []*database.PendingBlob
	var enrichable []int64

	for _, upd := range updates {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		rec, err := Normalize(upd)
		if err != nil {
			if !errors.Is(err, ErrSkippedUpdate) {
				return summary, err
			}
			c.log.WarnContext(ctx, "Skipping update", "update_id", upd.ID, "reason", err)
			summary.Skipped++
			summary.Errors = append(summary.Errors, err.Error())
			if upd.ID > maxID {
				maxID = upd.ID
			}
			continue
		}

		if err := c.store.UpsertUser(ctx, &rec.Sender); err != nil {
			return summary, fmt.Errorf("batch aborted at update %d: %w", upd.ID, err)
		}

		rec.Message.UserID = rec.Sender.ID
		if err := c.store.SaveMessage(ctx, &rec.Message); err != nil {
			return summary, fmt.Errorf("batch aborted at update %d: %w", upd.ID, err)
		}

		for i := range rec.Attachments {
			att := &rec.Attachments[i]
			att.MessageID = rec.Message.ID
			if err := c.store.SaveAttachment(ctx, att); err != nil {
				return summary, fmt.Errorf("batch aborted at update %d: %w", upd.ID, err)
			}

			if att.NeedsDownload() {
				pending = append(pending, &database.PendingBlob{
					Attachment:        *att,
					TelegramUserID:    rec.Sender.TelegramUserID,
					TelegramMessageID: rec.Message.TelegramMessageID,
					MessageTimestamp:  rec.Message.Timestamp,
				})
			} else if att.StorageKey != "" && att.EnrichmentField() != "" && att.EnrichmentValue() == "" {
				// Replayed attachment whose blob already exists but
				// whose enrichment never completed.
				enrichable = append(enrichable, att.ID)
			}
		}

		summary.Persisted++
		if upd.ID > maxID {
			maxID = upd.ID
		}
	}

	downloaded := c.downloadBlobs(ctx, pending, summary)
	enrichable = append(enrichable, downloaded...)

	// A cancelled run must not advance the cursor: pending work from
	// this batch has to replay.
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}

	if err := c.store.CommitCursor(ctx, maxID); err != nil {
		return summary, err
	}
	summary.LastUpdateID = maxID

	if c.enricher != nil {
		for _, id := range enrichable {
			if c.enricher.Enqueue(id) {
				summary.EnrichmentQueued++
			}
		}
	}

	c.log.InfoContext(ctx, "Ingestion run complete",
		"fetched", summary.Fetched, "persisted", summary.Persisted, "skipped", summary.Skipped,
		"downloaded", summary.Downloaded, "download_failures", summary.DownloadFailures,
		"enrichment_queued", summary.EnrichmentQueued, "cursor", summary.LastUpdateID)
	return summary, nil
}

// downloadBlobs fetches pending attachment blobs with bounded
// concurrency and records completed downloads. Failures are isolated
// per attachment and left for the recovery scan to retry.
func (c *Coordinator) downloadBlobs(ctx context.Context, pending []*database.PendingBlob, summary *Summary) []int64 {
	if len(pending) == 0 || c.blobs == nil {
		return nil
	}

	var mu sync.Mutex
	var enrichable []int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.downloadConcurrency)

	for _, blob := range pending {
		g.Go(func() error {
			key, size, err := c.blobs.Fetch(gctx, blob)
			if err == nil {
				err = c.store.SetAttachmentBlob(gctx, blob.ID, key, size)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.WarnContext(gctx, "Attachment download failed",
					"attachment_id", blob.ID, "kind", blob.Kind, "error", err)
				summary.DownloadFailures++
				summary.Errors = append(summary.Errors, fmt.Sprintf("attachment %d: %v", blob.ID, err))
				return nil
			}

			summary.Downloaded++
			if blob.EnrichmentField() != "" && blob.EnrichmentValue() == "" {
				enrichable = append(enrichable, blob.ID)
			}
			return nil
		})
	}

	// Workers never return errors, so Wait only reflects gctx.
	_ = g.Wait()

	return enrichable
}

// RecoverAttachments retries blob downloads for attachments whose fetch
// failed in earlier runs. Returns the number of blobs recovered.
func (c *Coordinator) RecoverAttachments(ctx context.Context, limit int) (int, error) {
	if c.blobs == nil {
		return 0, nil
	}

	pending, err := c.store.AttachmentsMissingBlob(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	c.log.InfoContext(ctx, "Recovering attachment blobs", "count", len(pending))

	summary := &Summary{}
	enrichable := c.downloadBlobs(ctx, pending, summary)

	if c.enricher != nil {
		for _, id := range enrichable {
			c.enricher.Enqueue(id)
		}
	}

	return summary.Downloaded, ctx.Err()
}
