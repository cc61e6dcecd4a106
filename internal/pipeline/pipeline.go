// Package pipeline runs the per-URL fetch-and-archive procedure.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/metrics"
	"github.com/JakeFAU/page-archiver/internal/writer"
)

const tracerName = "github.com/JakeFAU/page-archiver/internal/pipeline"

// Capturer loads a page and captures its bundle.
type Capturer interface {
	Capture(ctx context.Context, url string) (archive.CaptureResult, error)
}

// Archiver persists a bundle under a storage key.
type Archiver interface {
	Write(ctx context.Context, bundle archive.ArchiveBundle, key string) writer.Report
}

// Pipeline turns one URL into one FetchOutcome.
type Pipeline struct {
	capturer Capturer
	archiver Archiver
	sinks    []archive.OutcomeSink
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New constructs a Pipeline. Sinks receive every outcome on a best-effort basis.
func New(capturer Capturer, archiver Archiver, logger *zap.Logger, sinks ...archive.OutcomeSink) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		capturer: capturer,
		archiver: archiver,
		sinks:    sinks,
		logger:   logger.Named("pipeline"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Run fetches and archives url. It always returns an outcome; panics inside the
// run are recovered into a failed outcome.
func (p *Pipeline) Run(ctx context.Context, url string) (outcome archive.FetchOutcome) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("url.full", url)))
	metrics.IncActiveRuns()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline run panicked", zap.String("url", url), zap.Any("panic", r), zap.Stack("stack"))
			span.RecordError(fmt.Errorf("panic: %v", r))
			outcome = archive.FailedOutcome(url)
		}
		metrics.DecActiveRuns()
		metrics.ObserveFetch(url, outcome.Success, time.Since(start))
		span.SetAttributes(
			attribute.Bool("archive.success", outcome.Success),
			attribute.Int("http.response.status_code", outcome.Status),
			attribute.String("archive.path", outcome.StorageKey),
		)
		if !outcome.Success {
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.End()
		p.notify(ctx, outcome)
	}()

	return p.run(ctx, url)
}

func (p *Pipeline) run(ctx context.Context, url string) archive.FetchOutcome {
	logger := p.logger.With(zap.String("url", url))

	result, err := p.capturer.Capture(ctx, url)
	resp := result.Response
	if resp.ResolvedURL == "" {
		resp.ResolvedURL = url
	}
	if err != nil {
		logger.Warn("fetch failed",
			zap.String("resolved_url", resp.ResolvedURL),
			zap.Int("status", resp.Status),
			zap.Error(err),
		)
		return archive.FetchOutcome{
			Success:      false,
			RequestedURL: url,
			ResolvedURL:  resp.ResolvedURL,
			Status:       resp.Status,
			Headers:      archive.CloneHeaders(resp.Headers),
		}
	}

	outcome := archive.FetchOutcome{
		Success:      true,
		RequestedURL: url,
		ResolvedURL:  resp.ResolvedURL,
		Status:       resp.Status,
		Headers:      archive.CloneHeaders(resp.Headers),
	}

	key, err := archive.NormalizeKey(resp.ResolvedURL)
	if err != nil {
		logger.Warn("derive storage key failed, bundle not archived", zap.Error(err))
		return outcome
	}
	outcome.StorageKey = key

	report := p.archiver.Write(ctx, result.Bundle, key)
	logger.Info("page archived",
		zap.String("path", key),
		zap.Int("status", resp.Status),
		zap.Int("artifacts_stored", report.Stored()),
		zap.String("dom_content_loaded", string(result.Bundle.Settle.DOMContentLoaded)),
		zap.String("network_idle", string(result.Bundle.Settle.NetworkIdle)),
	)
	return outcome
}

func (p *Pipeline) notify(ctx context.Context, outcome archive.FetchOutcome) {
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, outcome); err != nil {
			p.logger.Warn("outcome sink failed", zap.String("url", outcome.RequestedURL), zap.Error(err))
		}
	}
}
