package models

import "testing"

func TestDocumentEventPaths(t *testing.T) {
	tests := []struct {
		name         string
		wantCustomer string
		wantFile     string
	}{
		{"alice/scan.png", "alice", "scan.png"},
		{"tenants/bob/notes.txt", "bob", "notes.txt"},
		{"orphan.pdf", "", "orphan.pdf"},
	}
	for _, tt := range tests {
		e := NewDocumentEvent("uploads", tt.name)
		if got := e.CustomerID(); got != tt.wantCustomer {
			t.Errorf("%s: CustomerID() = %q, want %q", tt.name, got, tt.wantCustomer)
		}
		if got := e.FileName(); got != tt.wantFile {
			t.Errorf("%s: FileName() = %q, want %q", tt.name, got, tt.wantFile)
		}
		if e.BlobURI != "gs://uploads/"+tt.name {
			t.Errorf("%s: BlobURI = %q", tt.name, e.BlobURI)
		}
	}
}

func TestOperationStatusTerminal(t *testing.T) {
	for status, want := range map[OperationStatus]bool{
		StatusNotStarted: false,
		StatusRunning:    false,
		StatusSucceeded:  true,
		StatusFailed:     true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestLogRecordBlobPath(t *testing.T) {
	if got := (LogRecord{CustomerID: "alice", FileName: "scan.png"}).BlobPath(); got != "alice/scan.png" {
		t.Errorf("BlobPath() = %q", got)
	}
	if got := (LogRecord{FileName: "orphan.pdf"}).BlobPath(); got != "orphan.pdf" {
		t.Errorf("BlobPath() = %q", got)
	}
}
