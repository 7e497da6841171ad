package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/documentocr/internal/gcp"
	"github.com/Lllllllleong/documentocr/internal/logsink"
	"github.com/Lllllllleong/documentocr/internal/ocr"
)

// IngestConfig holds all configuration for the ingest function. It is built
// once at startup and handed to the function; nothing reads the environment
// after that.
type IngestConfig struct {
	ProjectID    string
	OutputBucket string
	OutputPrefix string

	OCR ocr.Config

	LogSinks      []string
	LogTable      string
	LogCollection string
	Postgres      logsink.PostgresConfig
	SQLitePath    string

	// SuppressErrors keeps failed runs from being reported to the platform,
	// so the only record of a failure is the log row.
	SuppressErrors bool
	Preflight      bool
	MaxPDFPages    int

	WorkflowID       string
	WorkflowLocation string
}

// LoadIngestConfig loads and validates the environment variables for the
// ingest function.
func LoadIngestConfig() (*IngestConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	outputBucket := gcp.GetEnv("OUTPUT_BUCKET", "")
	if outputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}

	cfg := &IngestConfig{
		ProjectID:    projectID,
		OutputBucket: outputBucket,
		OutputPrefix: gcp.GetEnv("OUTPUT_PREFIX", ""),
		OCR:          LoadOCRConfig(),

		LogSinks:      splitList(gcp.GetEnv("LOG_SINKS", "postgres")),
		LogTable:      gcp.GetEnv("LOG_TABLE", "ocr_log"),
		LogCollection: gcp.GetEnv("LOG_COLLECTION", "ocrLogs"),
		Postgres:      LoadPostgresConfig(),
		SQLitePath:    gcp.GetEnv("SQLITE_PATH", "ocr_log.db"),

		SuppressErrors: gcp.GetEnvBool("SUPPRESS_ERRORS", true),
		Preflight:      gcp.GetEnvBool("PREFLIGHT", true),
		MaxPDFPages:    gcp.GetEnvInt("MAX_PDF_PAGES", 2000),

		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if cfg.OCR.Endpoint == "" || cfg.OCR.SubscriptionKey == "" {
		return nil, fmt.Errorf("OCR_ENDPOINT and OCR_SUBSCRIPTION_KEY must be set")
	}
	if len(cfg.LogSinks) == 0 {
		return nil, fmt.Errorf("LOG_SINKS must name at least one sink")
	}
	return cfg, nil
}

// LoadOCRConfig reads the Read API settings.
func LoadOCRConfig() ocr.Config {
	return ocr.Config{
		Endpoint:          gcp.GetEnv("OCR_ENDPOINT", ""),
		SubscriptionKey:   gcp.GetEnv("OCR_SUBSCRIPTION_KEY", ""),
		Language:          gcp.GetEnv("OCR_LANGUAGE", "en"),
		DetectOrientation: gcp.GetEnvBool("OCR_DETECT_ORIENTATION", false),
		PollInterval:      gcp.GetEnvDuration("OCR_POLL_INTERVAL", time.Second),
		MaxPollAttempts:   gcp.GetEnvInt("OCR_MAX_POLL_ATTEMPTS", 120),
		RetryAttempts:     gcp.GetEnvInt("OCR_RETRY_ATTEMPTS", 3),
		RetryDelay:        gcp.GetEnvDuration("OCR_RETRY_DELAY", 2*time.Second),
	}
}

// LoadPostgresConfig reads the log database credentials.
func LoadPostgresConfig() logsink.PostgresConfig {
	return logsink.PostgresConfig{
		DSN:         gcp.GetEnv("DB_URL", ""),
		Server:      gcp.GetEnv("DB_SERVER", ""),
		Port:        gcp.GetEnvInt("DB_PORT", 5432),
		Database:    gcp.GetEnv("DB_NAME", ""),
		User:        gcp.GetEnv("DB_USER", ""),
		Password:    gcp.GetEnv("DB_PASSWORD", ""),
		MaxConns:    int32(gcp.GetEnvInt("DB_MAX_CONNS", 4)),
		DialTimeout: gcp.GetEnvDuration("DB_DIAL_TIMEOUT", 10*time.Second),
	}
}

// ResultObjectName is where the OCR result for a blob path is written.
func (c *IngestConfig) ResultObjectName(blobPath string) string {
	return c.OutputPrefix + blobPath + ".json"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
