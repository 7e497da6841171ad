package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentocr/internal/models"
	"github.com/Lllllllleong/documentocr/internal/services"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function for storage uploads and an HTTP
	// function for manual reprocessing.
	functions.CloudEvent("IngestAndLog", ingestAndLog)
	functions.HTTP("HandleReprocess", handleReprocess)
}

// main is required by the Go Functions Framework.
func main() {}

func instance() (*services.IngestFunction, error) {
	once.Do(func() {
		ingestInstance, initErr = services.NewIngest(context.Background())
	})
	return ingestInstance, initErr
}

// ingester is the part of services.IngestFunction the entry points use.
type ingester interface {
	Process(ctx context.Context, e models.DocumentEvent) (models.LogRecord, error)
	OutputURI(e models.DocumentEvent) string
	SuppressErrors() bool
}

// ingestAndLog is the Cloud Function entry point for object.finalized events.
func ingestAndLog(ctx context.Context, e cloudevents.Event) error {
	f, err := instance()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}
	return ingest(ctx, f, e)
}

func ingest(ctx context.Context, f ingester, e cloudevents.Event) error {
	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()), "eventId", e.ID())
		if f.SuppressErrors() {
			return nil
		}
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	if gcsEvent.Bucket == "" || gcsEvent.Name == "" {
		slog.Error("Storage event is missing bucket or object name", "eventId", e.ID(), "data", string(e.Data()))
		if f.SuppressErrors() {
			return nil
		}
		return fmt.Errorf("storage event %s has no bucket or object name", e.ID())
	}

	// Process always writes the log row itself; an error here only means the
	// run should be retried by the platform.
	_, err := f.Process(ctx, models.NewDocumentEvent(gcsEvent.Bucket, gcsEvent.Name))
	return err
}

// handleReprocess runs the ingest function for an object that is already in
// the input bucket and reports the outcome.
func handleReprocess(w http.ResponseWriter, r *http.Request) {
	f, err := instance()
	if err != nil {
		slog.Error("Critical: Ingest initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	reprocess(w, r, f)
}

func reprocess(w http.ResponseWriter, r *http.Request, f ingester) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.Bucket == "" || req.Name == "" {
		http.Error(w, "Bad Request: bucket and name are required", http.StatusBadRequest)
		return
	}

	event := models.NewDocumentEvent(req.Bucket, req.Name)
	rec, err := f.Process(r.Context(), event)
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	res := models.ReprocessResponse{
		Status:    "failed",
		Success:   rec.Success,
		PageCount: rec.PageCount,
		Message:   rec.Message,
	}
	if rec.Success {
		res.Status = "success"
		res.OutputURI = f.OutputURI(event)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "gcsObject", req.Name)
	}
}
