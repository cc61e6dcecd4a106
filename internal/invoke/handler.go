// Package invoke adapts the archiver to the AWS Lambda runtime.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// ErrNoURLs is returned for events that name no URL.
var ErrNoURLs = errors.New("event carries no url")

// BatchRunner archives an ordered list of URLs.
type BatchRunner interface {
	RunAll(ctx context.Context, urls []string) []archive.FetchOutcome
}

// Request is a direct invocation payload. Either URL or URLs is set.
type Request struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

// Response lists the outcomes in request order.
type Response struct {
	Outcomes []archive.FetchOutcome `json:"outcomes"`
}

// Handler routes Lambda events to the batch runner.
type Handler struct {
	batch  BatchRunner
	logger *zap.Logger
}

// New constructs a Handler.
func New(batch BatchRunner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{batch: batch, logger: logger.Named("invoke")}
}

// Start blocks serving Lambda invocations.
func (h *Handler) Start() {
	lambda.Start(h.HandleEvent)
}

// HandleEvent accepts either an SQS event whose message bodies are Requests,
// a {"urls": [...]} request answered with a Response, or a {"url": ...} request
// answered with a single outcome.
func (h *Handler) HandleEvent(ctx context.Context, event json.RawMessage) (any, error) {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(event, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		return h.handleSQSEvent(ctx, sqsEvent), nil
	}

	var req Request
	if err := json.Unmarshal(event, &req); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if req.URLs == nil {
		url := strings.TrimSpace(req.URL)
		if url == "" {
			return nil, ErrNoURLs
		}
		return h.batch.RunAll(ctx, []string{url})[0], nil
	}
	urls, err := cleanURLs(req)
	if err != nil {
		return nil, err
	}
	return Response{Outcomes: h.batch.RunAll(ctx, urls)}, nil
}

// handleSQSEvent archives every URL carried by the batch in one fan-out.
// Malformed messages are logged and acknowledged; redelivery cannot fix them
// and every URL gets exactly one attempt.
func (h *Handler) handleSQSEvent(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	var urls []string
	for _, record := range event.Records {
		var req Request
		if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
			h.logger.Warn("dropping malformed message", zap.String("message_id", record.MessageId), zap.Error(err))
			continue
		}
		recordURLs, err := cleanURLs(req)
		if err != nil {
			h.logger.Warn("dropping message", zap.String("message_id", record.MessageId), zap.Error(err))
			continue
		}
		urls = append(urls, recordURLs...)
	}
	response := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	if len(urls) == 0 {
		return response
	}
	for _, outcome := range h.batch.RunAll(ctx, urls) {
		h.logger.Info("outcome",
			zap.String("url", outcome.RequestedURL),
			zap.Bool("success", outcome.Success),
			zap.Int("status", outcome.Status),
			zap.String("path", outcome.StorageKey),
		)
	}
	return response
}

func cleanURLs(req Request) ([]string, error) {
	raw := req.URLs
	if len(raw) == 0 && req.URL != "" {
		raw = []string{req.URL}
	}
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			return nil, fmt.Errorf("%w: blank entry in urls", ErrNoURLs)
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	return urls, nil
}
