package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/browser/fake"
	"github.com/JakeFAU/page-archiver/internal/browser/headless"
	"github.com/JakeFAU/page-archiver/internal/config"
	memorystorage "github.com/JakeFAU/page-archiver/internal/storage/memory"
)

func pngRaster(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func memoryConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Pipeline: config.PipelineConfig{Concurrency: 2},
		Capture:  config.CaptureConfig{ScreenshotQuality: 80},
		Storage:  config.StorageConfig{Backend: config.BackendMemory},
	}
}

func TestBuildWiresMemoryPipeline(t *testing.T) {
	sites := map[string]fake.Site{
		"https://example.com/a": {
			Status:     200,
			FinalURL:   "https://example.com/a/",
			Headers:    map[string]string{"content-type": "text/html"},
			Body:       []byte("<html>raw</html>"),
			HTML:       "<!DOCTYPE html><html>rendered</html>",
			Screenshot: pngRaster(t),
		},
	}
	app, err := Build(context.Background(), memoryConfig(),
		WithLogger(zap.NewNop()), WithBrowser(fake.NewBrowser(sites)))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	outcomes := app.Batch().RunAll(context.Background(), []string{"https://example.com/a", "https://missing.test/"})
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "example.com/a", outcomes[0].StorageKey)
	assert.False(t, outcomes[1].Success)

	store, ok := app.Store().(*memorystorage.BlobStore)
	require.True(t, ok)
	assert.Equal(t, []string{
		"example.com/a/body",
		"example.com/a/content.html",
		"example.com/a/metadata.json",
		"example.com/a/screenshot.webp",
	}, store.Keys())
	_, contentType, found := store.Get("example.com/a/screenshot.webp")
	require.True(t, found)
	assert.Equal(t, "image/webp", contentType)

	assert.Len(t, app.RecordedOutcomes(), 2)
}

func TestBuildHandlerServesHealth(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(),
		WithLogger(zap.NewNop()), WithBrowser(headless.NewNoop()))
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "ftp"
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithBrowser(headless.NewNoop()))
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestBuildLocalBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithBrowser(headless.NewNoop()))
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	assert.Nil(t, app.RecordedOutcomes())
	outcome := app.Pipeline().Run(context.Background(), "https://example.com/")
	assert.False(t, outcome.Success)
	assert.Equal(t, "https://example.com/", outcome.RequestedURL)
}
