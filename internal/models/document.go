package models

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// GCSEvent is the data payload of a Cloud Storage object.finalized CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// DocumentEvent identifies one uploaded document that should be sent to OCR.
type DocumentEvent struct {
	Bucket   string
	BlobURI  string
	BlobPath string
}

// NewDocumentEvent derives the document event for a storage object.
func NewDocumentEvent(bucket, name string) DocumentEvent {
	return DocumentEvent{
		Bucket:   bucket,
		BlobURI:  fmt.Sprintf("gs://%s/%s", bucket, name),
		BlobPath: name,
	}
}

// FileName is the final segment of the blob path.
func (e DocumentEvent) FileName() string {
	return path.Base(strings.TrimSuffix(e.BlobPath, "/"))
}

// CustomerID is the parent segment of the blob path, or "" for objects at the
// bucket root.
func (e DocumentEvent) CustomerID() string {
	dir := path.Dir(strings.TrimSuffix(e.BlobPath, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

// OperationStatus is the state of an asynchronous read operation as reported
// by the OCR provider.
type OperationStatus string

const (
	StatusNotStarted OperationStatus = "notStarted"
	StatusRunning    OperationStatus = "running"
	StatusSucceeded  OperationStatus = "succeeded"
	StatusFailed     OperationStatus = "failed"
)

// Terminal reports whether the provider has stopped working on the operation.
func (s OperationStatus) Terminal() bool {
	return s != StatusNotStarted && s != StatusRunning
}

// OcrResult is the provider's analyze result. The document itself is passed
// through untouched; only the page count is read out of it.
type OcrResult struct {
	Document  json.RawMessage
	PageCount int
}

// LogRecord is one append-only row in the processing log. Field order matches
// the column order of the log table.
type LogRecord struct {
	RunTimestamp    time.Time `firestore:"runTimestamp" json:"runTimestamp"`
	CustomerID      string    `firestore:"customerId" json:"customerId"`
	FileName        string    `firestore:"fileName" json:"fileName"`
	PageCount       int       `firestore:"pageCount" json:"pageCount"`
	StartTime       time.Time `firestore:"startTime" json:"startTime"`
	DurationSeconds float64   `firestore:"durationSeconds" json:"durationSeconds"`
	Success         bool      `firestore:"success" json:"success"`
	Message         string    `firestore:"message" json:"message"`
	Retry           bool      `firestore:"retry" json:"retry"`
}

// BlobPath is the storage object name the record was produced for.
func (r LogRecord) BlobPath() string {
	if r.CustomerID == "" {
		return r.FileName
	}
	return r.CustomerID + "/" + r.FileName
}
