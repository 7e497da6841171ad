package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documentocr/internal/models"
)

const (
	analyzePath             = "/vision/v3.2/read/analyze"
	analyzeResultsPath      = "/vision/v3.2/read/analyzeResults/{operationId}"
	operationLocationHeader = "Operation-Location"
)

// Config holds the settings for the Read API client.
type Config struct {
	Endpoint          string
	SubscriptionKey   string
	Language          string
	DetectOrientation bool
	PollInterval      time.Duration
	MaxPollAttempts   int

	// RetryAttempts and RetryDelay govern resending a single request that
	// came back with a throttling or server error status. Zero keeps the
	// SDK defaults.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Client submits documents to the Azure Computer Vision Read API and waits for
// the asynchronous result.
type Client struct {
	base   computervision.BaseClient
	config Config
}

// ReadOperation is one response of the analyzeResults endpoint.
type ReadOperation struct {
	Status        models.OperationStatus `json:"status"`
	AnalyzeResult json.RawMessage        `json:"analyzeResult,omitempty"`
}

// NewClient creates a Read API client authorised with the subscription key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.SubscriptionKey == "" {
		return nil, fmt.Errorf("ocr endpoint and subscription key must be provided")
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	base := computervision.New(strings.TrimSuffix(cfg.Endpoint, "/"))
	base.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.SubscriptionKey)
	if cfg.RetryAttempts > 0 {
		base.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		base.RetryDuration = cfg.RetryDelay
	}

	return &Client{base: base, config: cfg}, nil
}

// Analyze submits the document and polls until the provider reaches a
// terminal status. A provider-side failure is reported as ErrProcessingFailed.
func (c *Client) Analyze(ctx context.Context, data []byte) (*models.OcrResult, error) {
	operationID, err := c.Submit(ctx, data)
	if err != nil {
		return nil, err
	}

	op, err := c.Wait(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Status != models.StatusSucceeded {
		slog.Warn("Read operation finished without a result.", "operationId", operationID, "status", op.Status)
		return nil, ErrProcessingFailed
	}

	pages, err := countPages(op.AnalyzeResult)
	if err != nil {
		return nil, fmt.Errorf("failed to read page count from analyze result: %w", err)
	}
	return &models.OcrResult{Document: op.AnalyzeResult, PageCount: pages}, nil
}

// Submit posts the raw document bytes and returns the operation id taken from
// the Operation-Location header.
func (c *Client) Submit(ctx context.Context, data []byte) (string, error) {
	body := data
	preparer := autorest.CreatePreparer(
		autorest.AsContentType("application/octet-stream"),
		autorest.AsPost(),
		autorest.WithBaseURL(c.base.Endpoint),
		autorest.WithPath(analyzePath),
		autorest.WithQueryParameters(map[string]interface{}{
			"language":          c.config.Language,
			"detectOrientation": strconv.FormatBool(c.config.DetectOrientation),
		}),
		autorest.WithBytes(&body),
	)
	req, err := preparer.Prepare((&http.Request{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to prepare read analyze request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		return "", fmt.Errorf("read analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	location := autorest.ExtractHeaderValue(operationLocationHeader, resp)
	if location == "" {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read analyze response (status %d): %w", resp.StatusCode, err)
		}
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	operationID := location[strings.LastIndex(location, "/")+1:]
	if _, err := uuid.Parse(operationID); err != nil {
		return "", &SubmissionError{
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("malformed Operation-Location header %q", location),
		}
	}
	return operationID, nil
}

// Poll fetches the current state of a read operation once.
func (c *Client) Poll(ctx context.Context, operationID string) (*ReadOperation, error) {
	preparer := autorest.CreatePreparer(
		autorest.AsGet(),
		autorest.WithBaseURL(c.base.Endpoint),
		autorest.WithPathParameters(analyzeResultsPath, map[string]interface{}{
			"operationId": autorest.Encode("path", operationID),
		}),
	)
	req, err := preparer.Prepare((&http.Request{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare analyze results request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("analyze results request failed: %w", err)
	}

	var op ReadOperation
	err = autorest.Respond(
		resp,
		autorest.WithErrorUnlessStatusCode(http.StatusOK),
		autorest.ByUnmarshallingJSON(&op),
		autorest.ByClosing(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read operation %s: %w", operationID, err)
	}
	return &op, nil
}

// send resends throttled and 5xx responses the way the generated
// computervision senders do.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	return c.base.Send(req, autorest.DoRetryForStatusCodes(c.base.RetryAttempts, c.base.RetryDuration, autorest.StatusCodesForRetry...))
}

// Wait polls on the configured interval while the operation is queued or
// running. It gives up with ErrTimeout after MaxPollAttempts polls, or when
// ctx is done.
func (c *Client) Wait(ctx context.Context, operationID string) (*ReadOperation, error) {
	logCtx := slog.With("operationId", operationID)
	for attempt := 1; ; attempt++ {
		op, err := c.Poll(ctx, operationID)
		if err != nil {
			return nil, err
		}
		if op.Status.Terminal() {
			logCtx.Info("Read operation finished.", "status", op.Status, "polls", attempt)
			return op, nil
		}
		if c.config.MaxPollAttempts > 0 && attempt >= c.config.MaxPollAttempts {
			return nil, fmt.Errorf("operation %s still %s after %d polls: %w", operationID, op.Status, attempt, ErrTimeout)
		}

		select {
		case <-time.After(c.config.PollInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("operation %s: %w: %w", operationID, ErrTimeout, ctx.Err())
		}
	}
}

// countPages reads the number of pages out of an analyze result. Read API
// results list pages under readResults; newer document models use pages.
func countPages(doc json.RawMessage) (int, error) {
	if len(doc) == 0 {
		return 0, nil
	}
	var shape struct {
		ReadResults []json.RawMessage `json:"readResults"`
		Pages       []json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal(doc, &shape); err != nil {
		return 0, err
	}
	if shape.ReadResults != nil {
		return len(shape.ReadResults), nil
	}
	return len(shape.Pages), nil
}
