// Package capture drives one browser page through the archive capture
// protocol and assembles the resulting bundle.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/metrics"
	"github.com/JakeFAU/page-archiver/internal/policy/resource"
)

var (
	// ErrNoResponse means navigation finished without any response object.
	ErrNoResponse = errors.New("navigation produced no response")
	// ErrNavigation wraps failures to open a page or navigate it.
	ErrNavigation = errors.New("navigation failed")
)

// StatusError reports a main document status outside [200,299].
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unsuccessful status %d for %s", e.Status, e.URL)
}

// Config bounds the capture protocol.
type Config struct {
	DOMContentLoadedTimeout time.Duration
	NetworkIdleTimeout      time.Duration
	ScreenshotQuality       int
	// Deadline bounds the whole capture of one URL. Zero disables it.
	Deadline time.Duration
}

// Capturer implements the single-page capture protocol.
type Capturer struct {
	browser archive.Browser
	encoder archive.ImageEncoder
	policy  *resource.Policy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Capturer.
func New(
	browser archive.Browser,
	encoder archive.ImageEncoder,
	policy *resource.Policy,
	cfg Config,
	logger *zap.Logger,
) *Capturer {
	if cfg.DOMContentLoadedTimeout <= 0 {
		cfg.DOMContentLoadedTimeout = 2 * time.Second
	}
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = 2 * time.Second
	}
	if cfg.ScreenshotQuality <= 0 {
		cfg.ScreenshotQuality = 80
	}
	if policy == nil {
		policy = resource.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		browser: browser,
		encoder: encoder,
		policy:  policy,
		cfg:     cfg,
		logger:  logger.Named("capture"),
	}
}

// Capture loads url and captures its archive bundle. The returned error is
// ErrNoResponse, ErrNavigation or *StatusError; every other failure is recorded
// in the bundle instead. On error the result still carries whatever response
// metadata was obtained.
func (c *Capturer) Capture(ctx context.Context, url string) (archive.CaptureResult, error) {
	result := archive.CaptureResult{
		RequestedURL: url,
		Response: archive.ResponseMetadata{
			ResolvedURL: url,
			Headers:     map[string]string{},
		},
	}
	if c.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
		defer cancel()
	}
	logger := c.logger.With(zap.String("url", url))

	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: open page: %w", ErrNavigation, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			logger.Warn("close page failed", zap.Error(closeErr))
		}
	}()

	interceptor := resource.NewInterceptor(c.policy)
	page.Route(interceptor.Handle)
	defer func() {
		for resourceType, n := range interceptor.BlockedCounts() {
			metrics.ObserveBlockedRequests(resourceType, n)
		}
	}()

	resp, err := page.Navigate(ctx, url)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	if resp == nil {
		return result, ErrNoResponse
	}

	meta := archive.ResponseMetadata{
		Status:      resp.Status(),
		Headers:     lowerHeaders(resp.Headers()),
		ResolvedURL: resp.URL(),
	}
	if meta.ResolvedURL == "" {
		meta.ResolvedURL = url
	}
	meta.MainResourceType = interceptor.Observed().TypeOf(meta.ResolvedURL)
	result.Response = meta
	logger = logger.With(zap.String("resolved_url", meta.ResolvedURL), zap.Int("status", meta.Status))

	if meta.Status < 200 || meta.Status > 299 {
		return result, &StatusError{Status: meta.Status, URL: meta.ResolvedURL}
	}

	bundle := archive.ArchiveBundle{
		Response: meta,
		Settle:   c.settle(ctx, page, logger),
	}
	bundle.Screenshot = c.captureScreenshot(ctx, page)
	bundle.RawBody = c.captureBody(ctx, resp, meta.Headers)
	bundle.HTML = c.captureHTML(ctx, page)
	bundle.Metadata = captureMetadata(meta)

	for _, artifact := range bundle.Artifacts() {
		metrics.ObserveArtifact(string(artifact.Kind), artifact.Err == nil)
		if artifact.Err != nil {
			logger.Warn("artifact capture failed",
				zap.String("artifact", string(artifact.Kind)),
				zap.Error(artifact.Err),
			)
		}
	}
	result.Bundle = bundle
	return result, nil
}

func (c *Capturer) settle(ctx context.Context, page archive.Page, logger *zap.Logger) archive.SettleReport {
	return archive.SettleReport{
		DOMContentLoaded: c.wait(ctx, page, archive.LoadStateDOMContentLoaded, c.cfg.DOMContentLoadedTimeout, logger),
		NetworkIdle:      c.wait(ctx, page, archive.LoadStateNetworkIdle, c.cfg.NetworkIdleTimeout, logger),
	}
}

func (c *Capturer) wait(
	ctx context.Context,
	page archive.Page,
	state archive.LoadState,
	timeout time.Duration,
	logger *zap.Logger,
) archive.SettleStatus {
	if ctx.Err() != nil {
		return archive.SettleSkipped
	}
	err := page.WaitForLoadState(ctx, state, timeout)
	switch {
	case err == nil:
		return archive.SettleReached
	case errors.Is(err, archive.ErrSettleTimeout):
		metrics.ObserveSettleTimeout(string(state))
		logger.Warn("settle wait timed out", zap.String("state", string(state)), zap.Duration("timeout", timeout))
		return archive.SettleTimedOut
	default:
		logger.Warn("settle wait failed", zap.String("state", string(state)), zap.Error(err))
		return archive.SettleFailed
	}
}

func (c *Capturer) captureScreenshot(ctx context.Context, page archive.Page) archive.Artifact {
	raster, err := page.Screenshot(ctx)
	if err != nil {
		return archive.Failed(archive.ArtifactScreenshot, fmt.Errorf("screenshot: %w", err))
	}
	if c.encoder == nil {
		return archive.Failed(archive.ArtifactScreenshot, errors.New("no image encoder configured"))
	}
	encoded, err := c.encoder.Reencode(raster, c.cfg.ScreenshotQuality)
	if err != nil {
		return archive.Failed(archive.ArtifactScreenshot, fmt.Errorf("reencode screenshot: %w", err))
	}
	return archive.Artifact{
		Kind:        archive.ArtifactScreenshot,
		ContentType: c.encoder.ContentType(),
		Data:        encoded,
	}
}

func (c *Capturer) captureBody(ctx context.Context, resp archive.Response, headers map[string]string) archive.Artifact {
	body, err := resp.Body(ctx)
	if err != nil {
		return archive.Failed(archive.ArtifactBody, fmt.Errorf("read body: %w", err))
	}
	if body == nil {
		body = []byte{}
	}
	contentType := headers["content-type"]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return archive.Artifact{Kind: archive.ArtifactBody, ContentType: contentType, Data: body}
}

func (c *Capturer) captureHTML(ctx context.Context, page archive.Page) archive.Artifact {
	html, err := page.Content(ctx)
	if err != nil {
		return archive.Failed(archive.ArtifactHTML, fmt.Errorf("read content: %w", err))
	}
	return archive.Artifact{
		Kind:        archive.ArtifactHTML,
		ContentType: "text/html; charset=utf-8",
		Data:        []byte(html),
	}
}

func captureMetadata(meta archive.ResponseMetadata) archive.Artifact {
	data, err := json.Marshal(meta)
	if err != nil {
		return archive.Failed(archive.ArtifactMetadata, fmt.Errorf("marshal metadata: %w", err))
	}
	return archive.Artifact{Kind: archive.ArtifactMetadata, ContentType: "application/json", Data: data}
}

func lowerHeaders(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[strings.ToLower(k)] = v
	}
	return dst
}
