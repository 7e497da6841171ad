// Package preflight rejects documents the Read API is known to refuse, before
// any OCR quota is spent on them.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Read API input limits.
const (
	DefaultMaxPDFPages = 2000
	DefaultMaxBytes    = 500 << 20
	MinImageSide       = 50
	MaxImageSide       = 10000
)

// RejectionError explains why a document was not sent to OCR.
type RejectionError struct {
	FileName string
	Reason   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s was rejected before OCR: %s", e.FileName, e.Reason)
}

// Inspector checks size, PDF structure and image dimensions.
type Inspector struct {
	MaxPDFPages int
	MaxBytes    int
}

func New(maxPDFPages int) *Inspector {
	if maxPDFPages <= 0 {
		maxPDFPages = DefaultMaxPDFPages
	}
	return &Inspector{MaxPDFPages: maxPDFPages, MaxBytes: DefaultMaxBytes}
}

// Inspect returns a *RejectionError for documents that would fail at the
// provider, and nil otherwise.
func (in *Inspector) Inspect(_ context.Context, fileName string, data []byte) error {
	if in.MaxBytes > 0 && len(data) > in.MaxBytes {
		return &RejectionError{FileName: fileName, Reason: fmt.Sprintf("file is %d bytes, limit is %d", len(data), in.MaxBytes)}
	}
	if len(data) == 0 {
		return &RejectionError{FileName: fileName, Reason: "file is empty"}
	}

	if strings.EqualFold(path.Ext(fileName), ".pdf") {
		return in.inspectPDF(fileName, data)
	}
	return inspectImage(fileName, data)
}

func (in *Inspector) inspectPDF(fileName string, data []byte) error {
	tempDir, err := os.MkdirTemp("", "ocr-preflight-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pdfPath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to stage pdf: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(pdfPath, cfg); err != nil {
		return &RejectionError{FileName: fileName, Reason: fmt.Sprintf("not a valid PDF: %v", err)}
	}

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return &RejectionError{FileName: fileName, Reason: fmt.Sprintf("could not count pages: %v", err)}
	}
	if pageCount > in.MaxPDFPages {
		return &RejectionError{FileName: fileName, Reason: fmt.Sprintf("%d pages, limit is %d", pageCount, in.MaxPDFPages)}
	}
	return nil
}

func inspectImage(fileName string, data []byte) error {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return &RejectionError{FileName: fileName, Reason: fmt.Sprintf("could not decode image: %v", err)}
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < MinImageSide || h < MinImageSide || w > MaxImageSide || h > MaxImageSide {
		return &RejectionError{
			FileName: fileName,
			Reason:   fmt.Sprintf("image is %dx%d, each side must be between %d and %d pixels", w, h, MinImageSide, MaxImageSide),
		}
	}
	return nil
}
