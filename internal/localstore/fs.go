// Package localstore keeps input documents and OCR results on the local
// filesystem for the development runner.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrObjectNotFound is returned by Read for a missing file.
var ErrObjectNotFound = errors.New("object not found")

// FS maps buckets to directories below InputRoot and writes results below
// OutputDir.
type FS struct {
	InputRoot string
	OutputDir string
}

func (s *FS) Read(_ context.Context, bucket, object string) ([]byte, error) {
	p, err := s.resolve(filepath.Join(s.InputRoot, bucket), object)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, object, ErrObjectNotFound)
	}
	return data, err
}

// Write stores an uploaded document where Read will find it.
func (s *FS) Write(_ context.Context, bucket, object string, data []byte) error {
	p, err := s.resolve(filepath.Join(s.InputRoot, bucket), object)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *FS) Save(_ context.Context, objectName string, content []byte) error {
	p, err := s.resolve(s.OutputDir, objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return fmt.Errorf("failed to write result %s: %w", p, err)
	}
	return nil
}

func (s *FS) OutputURI(objectName string) string {
	return "file://" + filepath.ToSlash(filepath.Join(s.OutputDir, objectName))
}

// resolve joins name below root and refuses paths that escape it.
func (s *FS) resolve(root, name string) (string, error) {
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object name %q escapes %s", name, root)
	}
	return p, nil
}
