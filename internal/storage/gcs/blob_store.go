// Package gcs provides an archive object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket and the object attributes applied to every upload.
type Config struct {
	Bucket string
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// openFunc starts an object upload. Canceling ctx before Close abandons it.
type openFunc func(ctx context.Context, object, contentType string) io.WriteCloser

// BlobStore uploads artifacts to one GCS bucket.
type BlobStore struct {
	bucket string
	open   openFunc
}

// New binds a store to cfg.Bucket on client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs store: storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs store: bucket is required")
	}
	handle := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket: cfg.Bucket,
		open: func(ctx context.Context, object, contentType string) io.WriteCloser {
			w := handle.Object(object).NewWriter(ctx)
			w.ContentType = contentType
			w.CacheControl = cfg.CacheControl
			// Artifacts are small; send each in a single request.
			w.ChunkSize = 0
			return w
		},
	}, nil
}

// PutObject implements archive.BlobStore and returns a gs:// URI. A failed
// read abandons the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("gcs store: object path is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.open(ctx, path, contentType)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs store: upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs store: commit %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
