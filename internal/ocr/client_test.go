package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testOperationID = "5b1b0c3e-4a55-4f3c-9d3a-0f1a2b3c4d5e"

type fakeReadAPI struct {
	t          *testing.T
	statuses   []string
	result     string
	noLocation bool
	location   string
	throttle   int32
	throttled  atomic.Int32
	polls      atomic.Int32
	submitted  atomic.Int32
	server     *httptest.Server
}

func newFakeReadAPI(t *testing.T) *fakeReadAPI {
	f := &fakeReadAPI{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeReadAPI) serve(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "test-key" {
		f.t.Errorf("subscription key header = %q", got)
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == analyzePath:
		f.submitted.Add(1)
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			f.t.Errorf("content type = %q", ct)
		}
		if lang := r.URL.Query().Get("language"); lang != "en" {
			f.t.Errorf("language = %q", lang)
		}
		if d := r.URL.Query().Get("detectOrientation"); d != "false" {
			f.t.Errorf("detectOrientation = %q", d)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "document-bytes" {
			f.t.Errorf("body = %q", body)
		}
		if f.noLocation {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"code":"InvalidImageSize","message":"Image is too small."}}`)
			return
		}
		location := f.location
		if location == "" {
			location = f.server.URL + "/vision/v3.2/read/analyzeResults/" + testOperationID
		}
		w.Header().Set("Operation-Location", location)
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/analyzeResults/"+testOperationID):
		if f.throttled.Add(1) <= f.throttle {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"code":"429","message":"Rate limit is exceeded."}}`)
			return
		}
		n := int(f.polls.Add(1)) - 1
		status := f.statuses[len(f.statuses)-1]
		if n < len(f.statuses) {
			status = f.statuses[n]
		}
		w.Header().Set("Content-Type", "application/json")
		if status == "succeeded" {
			fmt.Fprintf(w, `{"status":"succeeded","analyzeResult":%s}`, f.result)
			return
		}
		fmt.Fprintf(w, `{"status":%q}`, status)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, endpoint string, maxPolls int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint:        endpoint,
		SubscriptionKey: "test-key",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxPolls,
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestAnalyzeSucceeded(t *testing.T) {
	api := newFakeReadAPI(t)
	api.statuses = []string{"notStarted", "running", "succeeded"}
	api.result = `{"version":"3.2.0","readResults":[{"page":1},{"page":2},{"page":3}]}`

	c := newTestClient(t, api.server.URL, 10)
	res, err := c.Analyze(context.Background(), []byte("document-bytes"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", res.PageCount)
	}
	if string(res.Document) != api.result {
		t.Errorf("Document = %s, want pass-through of %s", res.Document, api.result)
	}
	if got := api.polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestAnalyzeProviderFailed(t *testing.T) {
	api := newFakeReadAPI(t)
	api.statuses = []string{"running", "failed"}

	c := newTestClient(t, api.server.URL, 10)
	res, err := c.Analyze(context.Background(), []byte("document-bytes"))
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("err = %v, want ErrProcessingFailed", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestSubmitWithoutOperationLocation(t *testing.T) {
	api := newFakeReadAPI(t)
	api.noLocation = true

	c := newTestClient(t, api.server.URL, 10)
	_, err := c.Analyze(context.Background(), []byte("document-bytes"))

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("err = %v, want *SubmissionError", err)
	}
	if subErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", subErr.StatusCode)
	}
	want := `{"error":{"code":"InvalidImageSize","message":"Image is too small."}}`
	if subErr.Error() != want {
		t.Errorf("Error() = %q, want raw body %q", subErr.Error(), want)
	}
	if api.polls.Load() != 0 {
		t.Errorf("polled %d times after failed submission", api.polls.Load())
	}
}

func TestAnalyzeRetriesThrottledPoll(t *testing.T) {
	api := newFakeReadAPI(t)
	api.throttle = 1
	api.statuses = []string{"succeeded"}
	api.result = `{"readResults":[{"page":1}]}`

	c := newTestClient(t, api.server.URL, 10)
	res, err := c.Analyze(context.Background(), []byte("document-bytes"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", res.PageCount)
	}
	if got := api.throttled.Load(); got != 2 {
		t.Errorf("result requests = %d, want 2 (one throttled, one retried)", got)
	}
}

func TestSubmitRejectsMalformedOperationLocation(t *testing.T) {
	api := newFakeReadAPI(t)
	api.location = api.server.URL + "/vision/v3.2/read/analyzeResults/not-an-id"

	c := newTestClient(t, api.server.URL, 10)
	_, err := c.Submit(context.Background(), []byte("document-bytes"))

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("err = %v, want *SubmissionError", err)
	}
	if !strings.Contains(subErr.Error(), "not-an-id") {
		t.Errorf("Error() = %q, want the offending header", subErr.Error())
	}
	if api.polls.Load() != 0 {
		t.Errorf("polled %d times with a malformed operation id", api.polls.Load())
	}
}

func TestWaitBoundedByAttempts(t *testing.T) {
	api := newFakeReadAPI(t)
	api.statuses = []string{"running"}

	c := newTestClient(t, api.server.URL, 4)
	_, err := c.Analyze(context.Background(), []byte("document-bytes"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if got := api.polls.Load(); got != 4 {
		t.Errorf("polls = %d, want 4", got)
	}
}

func TestWaitStopsOnContext(t *testing.T) {
	api := newFakeReadAPI(t)
	api.statuses = []string{"running"}

	c := newTestClient(t, api.server.URL, 0)
	c.config.PollInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, testOperationID)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrTimeout wrapping DeadlineExceeded", err)
	}
}

func TestCountPages(t *testing.T) {
	tests := []struct {
		doc  string
		want int
	}{
		{`{"readResults":[{},{}]}`, 2},
		{`{"readResults":[]}`, 0},
		{`{"pages":[{},{},{},{}]}`, 4},
		{``, 0},
	}
	for _, tt := range tests {
		got, err := countPages([]byte(tt.doc))
		if err != nil {
			t.Fatalf("countPages(%s): %v", tt.doc, err)
		}
		if got != tt.want {
			t.Errorf("countPages(%s) = %d, want %d", tt.doc, got, tt.want)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "https://example.cognitiveservices.azure.com"}); err == nil {
		t.Fatal("expected error without subscription key")
	}
}
