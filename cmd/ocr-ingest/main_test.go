package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentocr/internal/models"
)

type fakeIngester struct {
	suppress bool
	rec      models.LogRecord
	err      error
	events   []models.DocumentEvent
}

func (f *fakeIngester) Process(_ context.Context, e models.DocumentEvent) (models.LogRecord, error) {
	f.events = append(f.events, e)
	return f.rec, f.err
}

func (f *fakeIngester) OutputURI(e models.DocumentEvent) string {
	return "gs://results/" + e.BlobPath + ".json"
}

func (f *fakeIngester) SuppressErrors() bool { return f.suppress }

func storageEvent(t *testing.T, data string) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/uploads")
	if err := e.SetData(cloudevents.ApplicationJSON, []byte(data)); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	return e
}

func TestIngestProcessesStorageEvent(t *testing.T) {
	f := &fakeIngester{}
	err := ingest(context.Background(), f, storageEvent(t, `{"bucket":"uploads","name":"alice/scan.png"}`))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(f.events) != 1 || f.events[0].BlobPath != "alice/scan.png" || f.events[0].Bucket != "uploads" {
		t.Errorf("events = %+v", f.events)
	}
}

func TestIngestUndecodablePayload(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		suppress bool
		wantErr  bool
	}{
		{"bad json suppressed", `not json`, true, false},
		{"bad json returned", `not json`, false, true},
		{"missing name suppressed", `{"bucket":"uploads"}`, true, false},
		{"missing name returned", `{"bucket":"uploads"}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIngester{suppress: tt.suppress}
			err := ingest(context.Background(), f, storageEvent(t, tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(f.events) != 0 {
				t.Errorf("processed %d events from an undecodable payload", len(f.events))
			}
		})
	}
}

func TestIngestReturnsProcessError(t *testing.T) {
	f := &fakeIngester{err: errors.New("retry me")}
	if err := ingest(context.Background(), f, storageEvent(t, `{"bucket":"uploads","name":"a/b.pdf"}`)); err == nil {
		t.Fatal("expected Process error to reach the platform")
	}
}

func TestReprocessRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing name", http.MethodPost, `{"bucket":"uploads"}`, http.StatusBadRequest},
		{"missing bucket", http.MethodPost, `{"name":"alice/scan.png"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIngester{}
			w := httptest.NewRecorder()
			reprocess(w, httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body)), f)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(f.events) != 0 {
				t.Errorf("Process called for a rejected request")
			}
		})
	}
}

func TestReprocessReportsOutcome(t *testing.T) {
	tests := []struct {
		name string
		rec  models.LogRecord
		want models.ReprocessResponse
	}{
		{
			name: "success",
			rec:  models.LogRecord{Success: true, PageCount: 3, Message: "processed"},
			want: models.ReprocessResponse{Status: "success", Success: true, PageCount: 3, Message: "processed", OutputURI: "gs://results/alice/scan.png.json"},
		},
		{
			name: "failure",
			rec:  models.LogRecord{Message: "OCR failed to process this file"},
			want: models.ReprocessResponse{Status: "failed", Message: "OCR failed to process this file"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIngester{rec: tt.rec}
			w := httptest.NewRecorder()
			body := `{"bucket":"uploads","name":"alice/scan.png"}`
			reprocess(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), f)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var got models.ReprocessResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got != tt.want {
				t.Errorf("response = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReprocessProcessError(t *testing.T) {
	f := &fakeIngester{err: errors.New("submission failed")}
	w := httptest.NewRecorder()
	reprocess(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bucket":"uploads","name":"a/b.pdf"}`)), f)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
