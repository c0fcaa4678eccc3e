package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"tgarchive/internal/database"
	"tgarchive/internal/enrich"
	"tgarchive/internal/ingest"
)

// Task names recognized by the registry; the scheduler config refers to
// tasks by these names.
const (
	TaskIngest             = "ingest"
	TaskEnrichmentBackfill = "enrichment_backfill"
	TaskAttachmentRecovery = "attachment_recovery"
	TaskSQLMaintenance     = "sql_maintenance"
)

// TaskDeps carries the dependencies the recurring tasks operate on.
type TaskDeps struct {
	Store        database.Store
	Coordinator  *ingest.Coordinator
	Orchestrator *enrich.Orchestrator
	Logger       *slog.Logger

	// BackfillLimit caps how many attachments one backfill or recovery
	// pass touches.
	BackfillLimit int
}

// NewTaskRegistry builds the task map for the scheduler from the
// archiver components. Tasks whose dependency is nil are omitted.
func NewTaskRegistry(deps TaskDeps) map[string]TaskFunc {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduled_tasks")

	limit := deps.BackfillLimit
	if limit <= 0 {
		limit = 50
	}

	registry := make(map[string]TaskFunc)

	if deps.Coordinator != nil {
		registry[TaskIngest] = func(ctx context.Context) error {
			summary, err := deps.Coordinator.RunOnce(ctx)
			if errors.Is(err, ingest.ErrRunInProgress) {
				log.DebugContext(ctx, "Skipping ingest tick, previous run still active")
				return nil
			}
			if err != nil {
				return err
			}
			if summary.Fetched > 0 {
				log.InfoContext(ctx, "Scheduled ingest complete",
					"fetched", summary.Fetched, "persisted", summary.Persisted,
					"skipped", summary.Skipped, "cursor", summary.LastUpdateID)
			}
			return nil
		}

		registry[TaskAttachmentRecovery] = func(ctx context.Context) error {
			recovered, err := deps.Coordinator.RecoverAttachments(ctx, limit)
			if recovered > 0 {
				log.InfoContext(ctx, "Attachment recovery complete", "recovered", recovered)
			}
			return err
		}
	}

	if deps.Orchestrator != nil {
		registry[TaskEnrichmentBackfill] = func(ctx context.Context) error {
			_, err := deps.Orchestrator.Backfill(ctx, limit)
			return err
		}
	}

	if deps.Store != nil {
		registry[TaskSQLMaintenance] = func(ctx context.Context) error {
			return deps.Store.RunSQLMaintenance(ctx)
		}
	}

	return registry
}
