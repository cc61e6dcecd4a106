package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/browser/fake"
	"github.com/JakeFAU/page-archiver/internal/capture"
	"github.com/JakeFAU/page-archiver/internal/policy/resource"
	pubmemory "github.com/JakeFAU/page-archiver/internal/publisher/memory"
	"github.com/JakeFAU/page-archiver/internal/storage/memory"
	"github.com/JakeFAU/page-archiver/internal/writer"
)

type harness struct {
	pipeline *Pipeline
	store    *memory.BlobStore
	sink     *pubmemory.Publisher
}

func newHarness(sites map[string]fake.Site, encoder archive.ImageEncoder) harness {
	store := memory.NewBlobStore()
	sink := pubmemory.New()
	c := capture.New(fake.NewBrowser(sites), encoder, resource.New(nil), capture.Config{}, zap.NewNop())
	w := writer.New(store, writer.Config{}, zap.NewNop())
	return harness{pipeline: New(c, w, zap.NewNop(), sink), store: store, sink: sink}
}

func redirectedSite() fake.Site {
	return fake.Site{
		Status:   200,
		FinalURL: "https://example.com/b/c.html",
		Headers:  map[string]string{"content-type": "text/html"},
		Body:     []byte("<html>raw</html>"),
		HTML:     "<html>rendered</html>",
	}
}

func TestRunArchivesAllArtifacts(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]fake.Site{"https://example.com/a/../b//c.html": redirectedSite()}, fake.Encoder{})
	outcome := h.pipeline.Run(context.Background(), "https://example.com/a/../b//c.html")

	assert.True(t, outcome.Success)
	assert.Equal(t, "https://example.com/a/../b//c.html", outcome.RequestedURL)
	assert.Equal(t, "https://example.com/b/c.html", outcome.ResolvedURL)
	assert.Equal(t, "example.com/b/c.html", outcome.StorageKey)
	assert.Equal(t, 200, outcome.Status)
	assert.Equal(t, "text/html", outcome.Headers["content-type"])

	assert.Equal(t, []string{
		"example.com/b/c.html/body",
		"example.com/b/c.html/content.html",
		"example.com/b/c.html/metadata.json",
		"example.com/b/c.html/screenshot.webp",
	}, h.store.Keys())

	recorded := h.sink.Outcomes()
	require.Len(t, recorded, 1)
	assert.Equal(t, outcome, recorded[0])
}

func TestRunScreenshotFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]fake.Site{"https://example.com/a/../b//c.html": redirectedSite()}, fake.Encoder{Fail: true})
	outcome := h.pipeline.Run(context.Background(), "https://example.com/a/../b//c.html")

	assert.True(t, outcome.Success)
	assert.Equal(t, []string{
		"example.com/b/c.html/body",
		"example.com/b/c.html/content.html",
		"example.com/b/c.html/metadata.json",
	}, h.store.Keys())
}

func TestRunNoResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]fake.Site{"https://example.com": {NoResponse: true}}, fake.Encoder{})
	outcome := h.pipeline.Run(context.Background(), "https://example.com")

	assert.False(t, outcome.Success)
	assert.Equal(t, 0, outcome.Status)
	assert.Equal(t, "https://example.com", outcome.ResolvedURL)
	assert.Empty(t, outcome.StorageKey)
	assert.Empty(t, h.store.Keys())
	assert.Len(t, h.sink.Outcomes(), 1)
}

func TestRunNotFoundAfterRedirect(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]fake.Site{
		"https://example.com/moved": {
			Status:   404,
			FinalURL: "https://www.example.com/gone",
			Headers:  map[string]string{"server": "nginx"},
		},
	}, fake.Encoder{})
	outcome := h.pipeline.Run(context.Background(), "https://example.com/moved")

	assert.False(t, outcome.Success)
	assert.Equal(t, 404, outcome.Status)
	assert.Equal(t, "https://www.example.com/gone", outcome.ResolvedURL)
	assert.Equal(t, "nginx", outcome.Headers["server"])
	assert.Empty(t, h.store.Keys())
}

type failingArchiver struct{ calls int }

func (f *failingArchiver) Write(context.Context, archive.ArchiveBundle, string) writer.Report {
	f.calls++
	return writer.Report{Uploads: []writer.Upload{{Kind: archive.ArtifactBody, Err: errors.New("bucket gone")}}}
}

func TestRunArchiveFailureDoesNotDowngradeSuccess(t *testing.T) {
	t.Parallel()

	c := capture.New(fake.NewBrowser(map[string]fake.Site{"https://example.com/": redirectedSite()}),
		fake.Encoder{}, nil, capture.Config{}, nil)
	archiver := &failingArchiver{}
	outcome := New(c, archiver, nil).Run(context.Background(), "https://example.com/")

	assert.True(t, outcome.Success)
	assert.Equal(t, "example.com/b/c.html", outcome.StorageKey)
	assert.Equal(t, 1, archiver.calls)
}

type stubCapturer struct {
	result archive.CaptureResult
	err    error
	panic  any
}

func (s stubCapturer) Capture(context.Context, string) (archive.CaptureResult, error) {
	if s.panic != nil {
		panic(s.panic)
	}
	return s.result, s.err
}

func TestRunKeyDerivationFailureKeepsSuccess(t *testing.T) {
	t.Parallel()

	archiver := &failingArchiver{}
	p := New(stubCapturer{result: archive.CaptureResult{
		RequestedURL: "https://example.com",
		Response:     archive.ResponseMetadata{Status: 200, ResolvedURL: "http://[::1"},
	}}, archiver, nil)

	outcome := p.Run(context.Background(), "https://example.com")
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.StorageKey)
	assert.Zero(t, archiver.calls)
}

type errSink struct{}

func (errSink) Record(context.Context, archive.FetchOutcome) error { return errors.New("sink down") }

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	sink := pubmemory.New()
	p := New(stubCapturer{panic: "boom"}, &failingArchiver{}, nil, errSink{}, nil, sink)

	var outcome archive.FetchOutcome
	require.NotPanics(t, func() {
		outcome = p.Run(context.Background(), "https://example.com")
	})
	assert.False(t, outcome.Success)
	assert.Equal(t, "https://example.com", outcome.ResolvedURL)
	assert.Len(t, sink.Outcomes(), 1)
}
