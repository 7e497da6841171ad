// Command ocr-admin re-drives failed OCR runs and exports the processing log.
//
//	ocr-admin retry    -bucket uploads -since 24h
//	ocr-admin backfill -bucket uploads -prefix alice/
//	ocr-admin export   -out ocr-log.xlsx -customer alice
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentocr/internal/gcp"
	"github.com/Lllllllleong/documentocr/internal/logsink"
	"github.com/Lllllllleong/documentocr/internal/ocr"
	"github.com/Lllllllleong/documentocr/internal/services"
)

func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func usage() {
	printError("usage: ocr-admin <retry|backfill|export> [flags]\n")
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "retry":
		err = runRetry(ctx, os.Args[2:])
	case "backfill":
		err = runBackfill(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func runRetry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	var (
		bucket      = fs.String("bucket", gcp.GetEnv("INPUT_BUCKET", ""), "input bucket the failed documents live in (required)")
		since       = fs.Duration("since", 24*time.Hour, "look back this far for retryable failures")
		limit       = fs.Int("limit", 5000, "maximum log rows to consider")
		concurrency = fs.Int("concurrency", 4, "documents processed in parallel")
		dryRun      = fs.Bool("dry-run", false, "list the documents without processing them")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bucket == "" {
		return fmt.Errorf("--bucket is required")
	}

	logs, err := logsink.OpenPostgres(ctx, services.LoadPostgresConfig(), gcp.GetEnv("LOG_TABLE", "ocr_log"))
	if err != nil {
		return err
	}
	defer logs.Close()

	// All outcomes are listed so a newer success hides an older failure.
	rows, err := logs.List(ctx, logsink.Filter{
		Since: time.Now().Add(-*since),
		Limit: *limit,
	})
	if err != nil {
		return err
	}
	names := retryTargets(rows)
	slog.Info("Found retryable documents.", "rows", len(rows), "documents", len(names))
	if *dryRun {
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	return processAll(ctx, *bucket, names, *concurrency)
}

func runBackfill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	var (
		bucket        = fs.String("bucket", gcp.GetEnv("INPUT_BUCKET", ""), "input bucket to scan (required)")
		prefix        = fs.String("prefix", "", "only objects below this prefix")
		concurrency   = fs.Int("concurrency", 4, "documents processed in parallel")
		supportedOnly = fs.Bool("supported-only", true, "skip objects with unsupported extensions")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bucket == "" {
		return fmt.Errorf("--bucket is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	all, err := gcp.NewStorage(client, "").List(ctx, *bucket, *prefix)
	if err != nil {
		return err
	}
	var names []string
	for _, n := range all {
		if *supportedOnly && !ocr.SupportedExtension(n) {
			continue
		}
		names = append(names, n)
	}
	slog.Info("Backfilling documents.", "bucket", *bucket, "prefix", *prefix, "listed", len(all), "documents", len(names))

	return processAll(ctx, *bucket, names, *concurrency)
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		out        = fs.String("out", "ocr-log.xlsx", "output XLSX file path")
		customer   = fs.String("customer", "", "only rows for this customer")
		since      = fs.Duration("since", 0, "only rows newer than this (0 = all)")
		failures   = fs.Bool("failures", false, "only failed runs")
		sqlitePath = fs.String("sqlite", "", "read from a local SQLite log instead of Postgres")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	table := gcp.GetEnv("LOG_TABLE", "ocr_log")
	var (
		logs *logsink.SQL
		err  error
	)
	if *sqlitePath != "" {
		logs, err = logsink.OpenSQLite(ctx, *sqlitePath, table)
	} else {
		logs, err = logsink.OpenPostgres(ctx, services.LoadPostgresConfig(), table)
	}
	if err != nil {
		return err
	}
	defer logs.Close()

	filter := logsink.Filter{CustomerID: *customer, FailuresOnly: *failures}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	rows, err := logs.List(ctx, filter)
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *out, err)
	}
	defer f.Close()
	if err := writeXLSX(f, rows); err != nil {
		return err
	}
	slog.Info("Exported processing log.", "rows", len(rows), "out", *out)
	return nil
}

// processAll builds the production ingest function and runs every name.
func processAll(ctx context.Context, bucket string, names []string, concurrency int) error {
	if len(names) == 0 {
		return nil
	}
	ingest, err := services.NewIngest(ctx)
	if err != nil {
		return err
	}
	defer ingest.Close()

	sum, err := rerun(ctx, ingest, bucket, names, concurrency)
	slog.Info("Run complete.", "documents", sum.total, "succeeded", sum.succeeded, "failed", sum.total-sum.succeeded)
	return err
}
