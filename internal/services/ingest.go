package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentocr/internal/gcp"
	"github.com/Lllllllleong/documentocr/internal/logsink"
	"github.com/Lllllllleong/documentocr/internal/models"
	"github.com/Lllllllleong/documentocr/internal/ocr"
	"github.com/Lllllllleong/documentocr/internal/preflight"
)

const (
	messageProcessed = "processed"
	logWriteTimeout  = 10 * time.Second
)

// ErrUnsupportedFormat is returned for files whose extension the OCR provider
// does not accept.
var ErrUnsupportedFormat = errors.New("unsupported format")

// BlobSource fetches the uploaded document.
type BlobSource interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// Recognizer runs OCR on a document and waits for the result.
type Recognizer interface {
	Analyze(ctx context.Context, data []byte) (*models.OcrResult, error)
}

// ResultStore persists the OCR result JSON.
type ResultStore interface {
	Save(ctx context.Context, objectName string, content []byte) error
	OutputURI(objectName string) string
}

// Inspector rejects documents before they are sent to OCR.
type Inspector interface {
	Inspect(ctx context.Context, fileName string, data []byte) error
}

// Notifier is told about every successfully stored result.
type Notifier interface {
	Notify(ctx context.Context, h models.HandOff) error
}

// Dependencies are the capabilities the ingest function is built from.
// Inspector, Notifier and Now are optional.
type Dependencies struct {
	Source     BlobSource
	Recognizer Recognizer
	Results    ResultStore
	Log        logsink.Sink
	Inspector  Inspector
	Notifier   Notifier
	Now        func() time.Time
}

// IngestFunction sends uploaded documents to OCR, stores the result and
// writes one processing log row per invocation.
type IngestFunction struct {
	source     BlobSource
	recognizer Recognizer
	results    ResultStore
	log        logsink.Sink
	inspector  Inspector
	notifier   Notifier
	now        func() time.Time
	config     IngestConfig
	closers    []func() error
}

// NewIngest creates an IngestFunction wired to Cloud Storage, the Read API
// and the configured log sinks.
func NewIngest(ctx context.Context) (*IngestFunction, error) {
	config, err := LoadIngestConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	store := gcp.NewStorage(storageClient, config.OutputBucket)
	closers := []func() error{storageClient.Close}

	recognizer, err := ocr.NewClient(config.OCR)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR client: %w", err)
	}

	sink, sinkClosers, err := OpenSinks(ctx, config)
	if err != nil {
		return nil, err
	}
	closers = append(closers, sinkClosers...)

	deps := Dependencies{
		Source:     store,
		Recognizer: recognizer,
		Results:    store,
		Log:        sink,
	}
	if config.Preflight {
		deps.Inspector = preflight.New(config.MaxPDFPages)
	}
	if config.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, err
		}
		deps.Notifier = notifier
		closers = append(closers, notifier.Close)
	}

	f, err := NewIngestWith(*config, deps)
	if err != nil {
		return nil, err
	}
	f.closers = closers
	slog.Info("Ingest function initialized.", "outputBucket", config.OutputBucket, "logSinks", config.LogSinks)
	return f, nil
}

// NewIngestWith creates an IngestFunction from explicit capabilities.
func NewIngestWith(config IngestConfig, deps Dependencies) (*IngestFunction, error) {
	if deps.Source == nil || deps.Recognizer == nil || deps.Results == nil || deps.Log == nil {
		return nil, fmt.Errorf("ingest function needs a blob source, recognizer, result store and log sink")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &IngestFunction{
		source:     deps.Source,
		recognizer: deps.Recognizer,
		results:    deps.Results,
		log:        deps.Log,
		inspector:  deps.Inspector,
		notifier:   deps.Notifier,
		now:        now,
		config:     config,
	}, nil
}

// OpenSinks opens every sink named in LogSinks and fans out to them.
func OpenSinks(ctx context.Context, config *IngestConfig) (logsink.Sink, []func() error, error) {
	var (
		sinks   logsink.Multi
		closers []func() error
	)
	for _, name := range config.LogSinks {
		switch name {
		case "postgres":
			s, err := logsink.OpenPostgres(ctx, config.Postgres, config.LogTable)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open postgres log sink: %w", err)
			}
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		case "sqlite":
			s, err := logsink.OpenSQLite(ctx, config.SQLitePath, config.LogTable)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open sqlite log sink: %w", err)
			}
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		case "firestore":
			client, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, logsink.NewFirestore(client, config.LogCollection))
			closers = append(closers, client.Close)
		default:
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], closers, nil
	}
	return sinks, closers, nil
}

// Close releases the clients opened by NewIngest.
func (f *IngestFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Process runs one invocation for an uploaded document and returns the log
// row it wrote. Exactly one row is appended on every path. Failures are only
// returned when SuppressErrors is off and the failure is worth a retry.
func (f *IngestFunction) Process(ctx context.Context, e models.DocumentEvent) (models.LogRecord, error) {
	start := f.now()
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.BlobPath, "customerId", e.CustomerID())
	logCtx.Info("Processing new document.")

	rec := models.LogRecord{
		CustomerID: e.CustomerID(),
		FileName:   e.FileName(),
		StartTime:  start,
	}

	result, err := f.recognize(ctx, logCtx, e)
	if err == nil {
		rec.PageCount = result.PageCount
		err = f.store(ctx, logCtx, e, result)
	}

	if err != nil {
		rec.Message, rec.Retry = classify(rec.FileName, err)
		logCtx.Error("Document processing failed.", "error", err, "retry", rec.Retry)
	} else {
		rec.Success = true
		rec.Message = messageProcessed
		logCtx.Info("Document processed.", "pageCount", rec.PageCount)
	}

	f.finish(ctx, logCtx, start, &rec)

	if err != nil && rec.Retry && !f.config.SuppressErrors {
		return rec, err
	}
	return rec, nil
}

// recognize covers the extension check, preflight, download and OCR.
func (f *IngestFunction) recognize(ctx context.Context, logCtx *slog.Logger, e models.DocumentEvent) (*models.OcrResult, error) {
	fileName := e.FileName()
	if !ocr.SupportedExtension(fileName) {
		return nil, fmt.Errorf("%s: %w", fileName, ErrUnsupportedFormat)
	}

	data, err := f.source.Read(ctx, e.Bucket, e.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.BlobURI, err)
	}

	if f.inspector != nil {
		if err := f.inspector.Inspect(ctx, fileName, data); err != nil {
			return nil, err
		}
	}

	logCtx.Info("Submitting document to OCR.", "bytes", len(data))
	return f.recognizer.Analyze(ctx, data)
}

// store writes the result JSON and hands it to the notifier.
func (f *IngestFunction) store(ctx context.Context, logCtx *slog.Logger, e models.DocumentEvent, result *models.OcrResult) error {
	objectName := f.config.ResultObjectName(e.BlobPath)
	if err := f.results.Save(ctx, objectName, result.Document); err != nil {
		return fmt.Errorf("failed to save OCR result: %w", err)
	}
	outputURI := f.results.OutputURI(objectName)
	logCtx.Info("Saved OCR result.", "output", outputURI)

	if f.notifier != nil {
		h := models.HandOff{
			CustomerID: e.CustomerID(),
			FileName:   e.FileName(),
			SourceURI:  e.BlobURI,
			OutputURI:  outputURI,
			PageCount:  result.PageCount,
		}
		if err := f.notifier.Notify(ctx, h); err != nil {
			logCtx.Error("Hand-off to workflow failed.", "error", err)
		}
	}
	return nil
}

// finish stamps timing and appends the row. A failing sink is logged and
// otherwise ignored.
func (f *IngestFunction) finish(ctx context.Context, logCtx *slog.Logger, start time.Time, rec *models.LogRecord) {
	end := f.now()
	rec.RunTimestamp = end
	rec.DurationSeconds = end.Sub(start).Seconds()
	rec.Message = logsink.SanitizeMessage(rec.Message)

	// The row is still written when the invocation context has been cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := f.log.Append(writeCtx, *rec); err != nil {
		logCtx.Error("CRITICAL: Failed to append processing log row.", "error", err, "success", rec.Success, "logMessage", rec.Message)
	}
}

// classify turns a failure into the log message and retry flag.
func classify(fileName string, err error) (string, bool) {
	var (
		rejection *preflight.RejectionError
		submit    *ocr.SubmissionError
	)
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return fmt.Sprintf("%s is not a supported format, will not send to OCR", fileName), false
	case errors.As(err, &rejection):
		return rejection.Error(), false
	case errors.Is(err, ocr.ErrProcessingFailed):
		return ocr.ErrProcessingFailed.Error(), false
	case errors.As(err, &submit):
		return submit.Error(), true
	default:
		return err.Error(), true
	}
}

// SuppressErrors reports whether failures are swallowed after logging.
func (f *IngestFunction) SuppressErrors() bool {
	return f.config.SuppressErrors
}

// OutputURI is where the result for e is (or would be) stored.
func (f *IngestFunction) OutputURI(e models.DocumentEvent) string {
	return f.results.OutputURI(f.config.ResultObjectName(e.BlobPath))
}
