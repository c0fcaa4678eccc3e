package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"tgarchive/internal/api"
	"tgarchive/internal/blobstore"
	"tgarchive/internal/config"
	"tgarchive/internal/database"
	"tgarchive/internal/enrich"
	"tgarchive/internal/gemini"
	"tgarchive/internal/ingest"
	"tgarchive/internal/logger"
	"tgarchive/internal/scheduler"
	"tgarchive/internal/telegram"
)

// application holds the wired archiver components for one process run.
type application struct {
	cfg         *config.Config
	log         *slog.Logger
	db          *sqlx.DB
	store       database.Store
	blobs       *blobstore.FileStore
	ai          gemini.Client
	enricher    *enrich.Orchestrator
	coordinator *ingest.Coordinator
}

// newApplication loads configuration and wires all components.
// Enrichment is optional: without a Gemini API key the archiver runs
// ingestion-only and the generate endpoints return 503.
func newApplication(ctx context.Context, cfgPath string) (*application, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &application{cfg: cfg, log: log, db: db}
	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context) error {
	a.store = database.NewStore(a.db, a.log)

	blobs, err := blobstore.NewFileStore(afero.NewOsFs(), a.cfg.Storage.Root, a.cfg.Storage.BaseURL, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	a.blobs = blobs

	tgClient, err := telegram.NewClient(
		a.cfg.Telegram.Token,
		a.cfg.Telegram.PageLimit,
		int(a.cfg.Telegram.PollTimeout.Seconds()),
		a.log,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telegram client: %w", err)
	}

	fetcher := ingest.NewBlobFetcher(tgClient, blobs, a.cfg.Ingest.DownloadTimeout, a.cfg.Ingest.MaxBlobSize, a.log)

	var enricher ingest.Enricher
	if a.cfg.Gemini.APIKey != "" {
		aiClient, err := gemini.NewClient(ctx, a.cfg.Gemini, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		a.ai = aiClient

		orch, err := enrich.NewOrchestrator(a.store, blobs, aiClient, a.cfg.Enrich.Workers, a.cfg.Enrich.Timeout, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize enrichment orchestrator: %w", err)
		}
		a.enricher = orch
		enricher = orch
	} else {
		a.log.Warn("No Gemini API key configured, enrichment disabled")
	}

	a.coordinator = ingest.NewCoordinator(tgClient, a.store, fetcher, enricher, a.cfg.Ingest.DownloadConcurrency, a.log)
	return nil
}

// Close releases application resources in reverse dependency order.
func (a *application) Close() {
	if a.enricher != nil {
		a.enricher.Close()
	}
	database.CloseDB(a.db)
}

// runServe runs the daemon: the scheduler driving recurring tasks and
// the HTTP API, until ctx is cancelled or either part fails.
func (a *application) runServe(ctx context.Context) error {
	registry := scheduler.NewTaskRegistry(scheduler.TaskDeps{
		Store:         a.store,
		Coordinator:   a.coordinator,
		Orchestrator:  a.enricher,
		Logger:        a.log,
		BackfillLimit: a.cfg.Enrich.BackfillLimit,
	})

	sched, err := scheduler.NewScheduler(a.log, &a.cfg.Scheduler, registry)
	if err != nil {
		return err
	}

	apiSrv := api.NewServer(a.cfg.API.Addr, a.store, a.blobs, a.enricher, a.coordinator, a.ai, a.log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiSrv.Run(gctx)
	})

	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		return sched.Stop()
	})

	a.log.Info("Archiver daemon started")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runFetch executes one ingestion cycle. With enrich set, pending
// enrichment is then processed synchronously before returning.
func (a *application) runFetch(ctx context.Context, withEnrich bool) error {
	summary, err := a.coordinator.RunOnce(ctx)
	if err != nil {
		return err
	}

	a.log.Info("Fetch complete",
		"fetched", summary.Fetched, "persisted", summary.Persisted, "skipped", summary.Skipped,
		"downloaded", summary.Downloaded, "download_failures", summary.DownloadFailures,
		"cursor", summary.LastUpdateID)

	if !withEnrich || a.enricher == nil {
		return nil
	}
	return a.runBackfill(ctx)
}

// runBackfill synchronously enriches stored attachments whose target
// field is still empty. Failures are logged and left for a later pass.
func (a *application) runBackfill(ctx context.Context) error {
	if a.enricher == nil {
		return fmt.Errorf("enrichment is not configured, set gemini.api_key")
	}

	pending, err := a.store.AttachmentsPendingEnrichment(ctx, a.cfg.Enrich.BackfillLimit)
	if err != nil {
		return err
	}

	enriched := 0
	for _, att := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.enricher.Enrich(ctx, att, enrich.Options{}); err != nil {
			a.log.Warn("Enrichment failed", "attachment_id", att.ID, "error", err)
			continue
		}
		enriched++
	}

	a.log.Info("Backfill complete", "pending", len(pending), "enriched", enriched)
	return nil
}
