package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"vz-aggregator/internal/ingest"
	"vz-aggregator/internal/runner"
	"vz-aggregator/internal/store"
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	_ = godotenv.Load()
	logger := newLogger()

	root := &cobra.Command{
		Use:   "aggregator",
		Short: "Public procurement notice aggregator",
	}

	var sourcesPath string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape all enabled sources and store the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg, err := ingest.LoadRegistry(sourcesPath)
			if err != nil {
				return fmt.Errorf("load registry: %w", err)
			}
			adapters, err := reg.BuildAdapters(logger)
			if err != nil {
				return err
			}
			if len(adapters) == 0 {
				return fmt.Errorf("no enabled sources in registry")
			}

			pool, err := store.Connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.ApplyMigrations(ctx, pool, logger); err != nil {
				return err
			}

			r := &runner.Runner{
				Raw:     store.NewRawStore(pool, logger),
				Tenders: store.NewTenderStore(pool, logger),
				Sync:    store.NewReconciler(pool, logger),
				RunLog:  store.NewRunLog(pool),
				Logger:  logger,
			}
			summaries := r.RunAll(ctx, adapters)

			for _, s := range summaries {
				fmt.Printf("%s: pages=%d details=%d raw_inserted=%d new=%d updated=%d reconciled=%d errors=%d\n",
					s.SourceID, s.PagesScraped, s.DetailsFetched, s.RawInserted,
					s.TendersNew, s.TendersUpdated, s.RowsReconciled, len(s.Errors))
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&sourcesPath, "sources", "",
		"path to a sources.yaml override (defaults to the embedded copy)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := store.Connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			return store.ApplyMigrations(ctx, pool, logger)
		},
	}

	var runsLimit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := store.Connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			recs, err := store.NewRunLog(pool).List(ctx, runsLimit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Source", "Pages", "Details", "Raw", "New", "Updated", "Reconciled", "Errors", "Duration", "Started At"})
			for _, rec := range recs {
				duration := "running"
				if rec.FinishedAt != nil {
					duration = rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String()
				}
				t.AppendRow(table.Row{
					rec.SourceID, rec.PagesScraped, rec.DetailsFetched, rec.RawInserted,
					rec.TendersNew, rec.TendersUpdated, rec.RowsReconciled, len(rec.Errors),
					duration, rec.StartedAt.Format("2006-01-02 15:04:05"),
				})
			}
			t.Render()
			return nil
		},
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")

	root.AddCommand(runCmd, migrateCmd, runsCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
