// Command tgarchive archives a personal Telegram message stream: it
// pulls updates, persists messages and attachment blobs, and enriches
// media with AI-generated descriptions and transcriptions.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tgarchive",
		Short:         "Personal Telegram message archiver with AI enrichment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to configuration file")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newFetchCmd(&cfgPath))
	root.AddCommand(newBackfillCmd(&cfgPath))

	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the archiver daemon: scheduled ingestion plus the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.runServe(cmd.Context())
		},
	}
}

func newFetchCmd(cfgPath *string) *cobra.Command {
	var withEnrich bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one ingestion cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.runFetch(cmd.Context(), withEnrich)
		},
	}
	cmd.Flags().BoolVar(&withEnrich, "enrich", false, "enrich pending attachments after fetching")

	return cmd
}

func newBackfillCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Enrich stored attachments whose description or transcription is missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.runBackfill(cmd.Context())
		},
	}
}
