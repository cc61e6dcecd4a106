package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

func TestRecordPublishesOutcome(t *testing.T) {
	t.Parallel()

	var sent *pubsub.Message
	p := &Publisher{publish: func(_ context.Context, msg *pubsub.Message) (string, error) {
		sent = msg
		return "msg-1", nil
	}}

	outcome := archive.FetchOutcome{
		Success:      true,
		RequestedURL: "https://example.com",
		ResolvedURL:  "https://example.com/",
		StorageKey:   "example.com",
		Status:       200,
		Headers:      map[string]string{},
	}
	require.NoError(t, p.Record(context.Background(), outcome))
	require.NotNil(t, sent)

	var decoded archive.FetchOutcome
	require.NoError(t, json.Unmarshal(sent.Data, &decoded))
	assert.Equal(t, outcome, decoded)
	assert.Equal(t, "true", sent.Attributes["success"])
	assert.Equal(t, "200", sent.Attributes["status"])
	assert.Equal(t, "example.com", sent.Attributes["path"])
}

func TestRecordErrors(t *testing.T) {
	t.Parallel()

	assert.Error(t, New(nil).Record(context.Background(), archive.FailedOutcome("https://x")))

	p := &Publisher{publish: func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("topic not found")
	}}
	assert.ErrorContains(t, p.Record(context.Background(), archive.FailedOutcome("https://x")), "topic not found")
}

func TestCarrierInjectsTraceContext(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	defer span.End()

	carrier := &pubsubCarrier{attrs: map[string]string{}}
	propagation.TraceContext{}.Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
