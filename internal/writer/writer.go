// Package writer persists archive bundles to an object store.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/metrics"
)

// ErrNotCaptured marks an artifact that was skipped because capture failed.
var ErrNotCaptured = errors.New("artifact not captured")

// Upload is the result of writing one artifact.
type Upload struct {
	Kind ArtifactName
	Path string
	URI  string
	Err  error
}

// ArtifactName aliases archive.ArtifactKind for readability in reports.
type ArtifactName = archive.ArtifactKind

// Report lists one Upload per artifact kind, in upload order.
type Report struct {
	Uploads []Upload
}

// Stored returns the number of artifacts that were written.
func (r Report) Stored() int {
	n := 0
	for _, u := range r.Uploads {
		if u.Err == nil {
			n++
		}
	}
	return n
}

// Config controls object naming.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
}

// Writer uploads each present artifact under <prefix>/<key>/<name>.
type Writer struct {
	store  archive.BlobStore
	prefix string
	logger *zap.Logger
}

// New constructs a Writer.
func New(store archive.BlobStore, cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:  store,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("writer"),
	}
}

// ObjectPath returns the object path of an artifact under key.
func (w *Writer) ObjectPath(key string, kind archive.ArtifactKind) string {
	if w.prefix == "" {
		return path.Join(key, string(kind))
	}
	return path.Join(w.prefix, key, string(kind))
}

// Write uploads every present artifact independently. Failures are logged and
// reported; they never stop the remaining uploads.
func (w *Writer) Write(ctx context.Context, bundle archive.ArchiveBundle, key string) Report {
	report := Report{Uploads: make([]Upload, 0, len(archive.ArtifactKinds))}
	logger := w.logger.With(zap.String("key", key))
	for _, artifact := range bundle.Artifacts() {
		upload := Upload{Kind: artifact.Kind, Path: w.ObjectPath(key, artifact.Kind)}
		if !artifact.Present() {
			upload.Err = ErrNotCaptured
			report.Uploads = append(report.Uploads, upload)
			continue
		}
		uri, err := w.store.PutObject(ctx, upload.Path, contentType(artifact), bytes.NewReader(artifact.Data))
		if err != nil {
			upload.Err = fmt.Errorf("upload %s: %w", upload.Path, err)
			logger.Warn("artifact upload failed", zap.String("artifact", string(artifact.Kind)), zap.Error(err))
		} else {
			upload.URI = uri
			logger.Debug("artifact uploaded", zap.String("uri", uri), zap.Int("bytes", len(artifact.Data)))
		}
		metrics.ObserveUpload(string(artifact.Kind), err == nil, len(artifact.Data))
		report.Uploads = append(report.Uploads, upload)
	}
	return report
}

func contentType(a archive.Artifact) string {
	if a.ContentType != "" {
		return a.ContentType
	}
	switch a.Kind {
	case archive.ArtifactScreenshot:
		return "image/webp"
	case archive.ArtifactHTML:
		return "text/html; charset=utf-8"
	case archive.ArtifactMetadata:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
