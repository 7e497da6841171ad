package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentocr/internal/models"
)

type processor interface {
	Process(ctx context.Context, e models.DocumentEvent) (models.LogRecord, error)
}

type summary struct {
	total     int
	succeeded int
}

// retryTargets returns the documents whose latest outcome is a retryable
// failure. rows must be ordered newest first, as SQL.List returns them; a
// later success or permanent failure supersedes older retryable rows.
func retryTargets(rows []models.LogRecord) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rows {
		name := r.BlobPath()
		if seen[name] {
			continue
		}
		seen[name] = true
		if !r.Success && r.Retry {
			names = append(names, name)
		}
	}
	return names
}

// rerun processes names with bounded parallelism. Every run writes its own
// log row; the first error returned by Process cancels the rest.
func rerun(ctx context.Context, p processor, bucket string, names []string, concurrency int) (summary, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	var succeeded atomic.Int64
	for _, name := range names {
		eg.Go(func() error {
			rec, err := p.Process(gctx, models.NewDocumentEvent(bucket, name))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if rec.Success {
				succeeded.Add(1)
			}
			return nil
		})
	}
	err := eg.Wait()
	return summary{total: len(names), succeeded: int(succeeded.Load())}, err
}

var exportHeaders = []string{
	"Run Timestamp",
	"Customer",
	"File Name",
	"Pages",
	"Start Time",
	"Duration (s)",
	"Success",
	"Message",
	"Retry",
}

// writeXLSX writes the log rows as a single-sheet workbook.
func writeXLSX(w io.Writer, rows []models.LogRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Processing Log"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range rows {
		row := i + 2
		values := []any{
			r.RunTimestamp.UTC().Format("2006-01-02 15:04:05"),
			r.CustomerID,
			r.FileName,
			r.PageCount,
			r.StartTime.UTC().Format("2006-01-02 15:04:05"),
			r.DurationSeconds,
			r.Success,
			r.Message,
			r.Retry,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "C", "C", 32)
	_ = f.SetColWidth(sheet, "E", "E", 20)
	_ = f.SetColWidth(sheet, "H", "H", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
