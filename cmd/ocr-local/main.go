// Command ocr-local runs the ingest function against the local filesystem and
// a SQLite log table, using the real OCR provider.
package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Lllllllleong/documentocr/internal/gcp"
	"github.com/Lllllllleong/documentocr/internal/localstore"
	"github.com/Lllllllleong/documentocr/internal/logsink"
	"github.com/Lllllllleong/documentocr/internal/models"
	"github.com/Lllllllleong/documentocr/internal/ocr"
	"github.com/Lllllllleong/documentocr/internal/preflight"
	"github.com/Lllllllleong/documentocr/internal/services"
)

const localBucket = "local"

type server struct {
	ingest *services.IngestFunction
	store  *localstore.FS
	logs   *logsink.SQL
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Failed to load .env file", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	srv, err := newServer(ctx)
	if err != nil {
		slog.Error("Failed to start local runner", "error", err)
		os.Exit(1)
	}
	defer srv.logs.Close()

	port := gcp.GetEnv("PORT", "8080")
	slog.Info("Local OCR runner listening.", "port", port)
	if err := srv.routes().Run(":" + port); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func newServer(ctx context.Context) (*server, error) {
	recognizer, err := ocr.NewClient(services.LoadOCRConfig())
	if err != nil {
		return nil, err
	}

	table := gcp.GetEnv("LOG_TABLE", "ocr_log")
	logs, err := logsink.OpenSQLite(ctx, gcp.GetEnv("SQLITE_PATH", "ocr_log.db"), table)
	if err != nil {
		return nil, err
	}

	store := &localstore.FS{
		InputRoot: gcp.GetEnv("LOCAL_INPUT_DIR", "data/in"),
		OutputDir: gcp.GetEnv("LOCAL_OUTPUT_DIR", "data/out"),
	}

	cfg := services.IngestConfig{
		OutputPrefix:   gcp.GetEnv("OUTPUT_PREFIX", ""),
		OCR:            services.LoadOCRConfig(),
		LogSinks:       []string{"sqlite"},
		LogTable:       table,
		SuppressErrors: true,
		Preflight:      gcp.GetEnvBool("PREFLIGHT", true),
		MaxPDFPages:    gcp.GetEnvInt("MAX_PDF_PAGES", preflight.DefaultMaxPDFPages),
	}
	deps := services.Dependencies{
		Source:     store,
		Recognizer: recognizer,
		Results:    store,
		Log:        logs,
	}
	if cfg.Preflight {
		deps.Inspector = preflight.New(cfg.MaxPDFPages)
	}

	ingest, err := services.NewIngestWith(cfg, deps)
	if err != nil {
		logs.Close()
		return nil, err
	}
	return &server{ingest: ingest, store: store, logs: logs}, nil
}

func (s *server) routes() *gin.Engine {
	r := gin.Default()
	r.POST("/documents/:customer/:file", s.upload)
	r.GET("/logs", s.listLogs)
	return r
}

// upload stores the request body as <customer>/<file> and runs the ingest
// function on it, the way a storage trigger would.
func (s *server) upload(c *gin.Context) {
	name := c.Param("customer") + "/" + c.Param("file")
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}
	if err := s.store.Write(c.Request.Context(), localBucket, name, data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := models.NewDocumentEvent(localBucket, name)
	rec, err := s.ingest.Process(c.Request.Context(), event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
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
		res.OutputURI = s.ingest.OutputURI(event)
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) listLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter := logsink.Filter{
		CustomerID:   c.Query("customer"),
		FailuresOnly: c.Query("failures") == "true",
		Limit:        limit,
	}
	rows, err := s.logs.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}
