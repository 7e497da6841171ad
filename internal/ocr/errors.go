package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a read operation is still pending after the
	// poll budget is spent or the context ends.
	ErrTimeout = errors.New("ocr operation timed out")

	// ErrProcessingFailed is returned when the provider finished the operation
	// but reported it as failed.
	ErrProcessingFailed = errors.New("OCR failed to process this file")
)

// SubmissionError means the provider did not hand back an operation
// reference. Body holds the provider's raw response text.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("read analyze returned status %d without an Operation-Location header", e.StatusCode)
	}
	return e.Body
}
