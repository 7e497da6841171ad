package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvBool reads a boolean environment variable, falling back on absence or
// a malformed value.
func GetEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// GetEnvInt reads an integer environment variable.
func GetEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// GetEnvDuration reads a time.ParseDuration formatted environment variable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// ErrObjectNotFound is returned by Read for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// Storage reads input documents and writes OCR results in Cloud Storage.
type Storage struct {
	client       *storage.Client
	outputBucket string
	maxRetries   int
}

// NewStorage wraps a storage client. Results are written to outputBucket.
func NewStorage(client *storage.Client, outputBucket string) *Storage {
	return &Storage{client: client, outputBucket: outputBucket, maxRetries: 4}
}

// Read downloads a whole object.
func (s *Storage) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Save writes content to the output bucket, overwriting any earlier result.
// Transient failures are retried with exponential backoff.
func (s *Storage) Save(ctx context.Context, objectName string, content []byte) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		err := s.write(ctx, objectName, content)
		if err == nil {
			return nil
		}
		lastErr = err

		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != 429 {
			break
		}
		slog.Warn(
			"Result upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Error("Result upload failed.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed: %w", objectName, lastErr)
}

func (s *Storage) write(ctx context.Context, objectName string, content []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	w := s.client.Bucket(s.outputBucket).Object(objectName).NewWriter(writeCtx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// OutputURI is the gs:// address of a result object.
func (s *Storage) OutputURI(objectName string) string {
	return fmt.Sprintf("gs://%s/%s", s.outputBucket, objectName)
}

// List returns the names of all objects under prefix in bucket.
func (s *Storage) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
