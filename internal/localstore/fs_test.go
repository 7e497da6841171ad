package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := &FS{InputRoot: filepath.Join(dir, "in"), OutputDir: filepath.Join(dir, "out")}

	if err := s.Write(ctx, "uploads", "alice/scan.png", []byte("png")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := s.Read(ctx, "uploads", "alice/scan.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("Read = %q", data)
	}

	if err := s.Save(ctx, "alice/scan.png.json", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "alice", "scan.png.json")); err != nil {
		t.Errorf("result not written: %v", err)
	}
}

func TestFSMissingAndEscaping(t *testing.T) {
	ctx := context.Background()
	s := &FS{InputRoot: t.TempDir(), OutputDir: t.TempDir()}

	if _, err := s.Read(ctx, "uploads", "nobody/none.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Read missing = %v, want ErrObjectNotFound", err)
	}
	if err := s.Save(ctx, "../../etc/passwd", []byte("x")); err == nil {
		t.Error("Save accepted a path outside the output directory")
	}
}
