// Package api exposes the archive over HTTP: querying users and
// messages, serving stored blobs, editing and regenerating enrichment
// text, and triggering ingestion runs.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tgarchive/internal/blobstore"
	"tgarchive/internal/database"
	"tgarchive/internal/enrich"
	"tgarchive/internal/gemini"
	"tgarchive/internal/ingest"
)

// Server is the HTTP front of the archive.
type Server struct {
	store       database.Store
	blobs       blobstore.ContentStore
	enricher    *enrich.Orchestrator
	coordinator *ingest.Coordinator
	ai          gemini.Client
	log         *slog.Logger
	httpSrv     *http.Server
}

// NewServer builds the HTTP server on addr. enricher, coordinator and
// ai may be nil, in which case the corresponding endpoints return 503.
func NewServer(addr string, store database.Store, blobs blobstore.ContentStore, enricher *enrich.Orchestrator, coordinator *ingest.Coordinator, ai gemini.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:       store,
		blobs:       blobs,
		enricher:    enricher,
		coordinator: coordinator,
		ai:          ai,
		log:         logger.With("component", "api_server"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.requestLogger(), gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/users", s.handleListUsers)
	router.GET("/messages", s.handleListMessages)
	router.GET("/messages/export", s.handleExportMessages)
	router.GET("/media-url", s.handleMediaURL)
	router.GET("/blobs/*key", s.handleServeBlob)

	router.PUT("/media/:id/description", s.handleSetField("description"))
	router.PUT("/media/:id/transcription", s.handleSetField("transcription"))
	router.POST("/media/:id/generate-description", s.handleGenerate("description"))
	router.POST("/media/:id/generate-transcription", s.handleGenerate("transcription"))

	router.POST("/summarize", s.handleSummarize)
	router.POST("/runs", s.handleTriggerRun)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("Shutting down API server")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// requestLogger logs one line per request in the structured format the
// rest of the service uses.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.InfoContext(c.Request.Context(), "Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
