// Package local implements an archive object store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config locates the archive root.
type Config struct {
	// BaseDir is created if missing and must be writable.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes each object to <BaseDir>/<path>. Objects are written to a
// temporary sibling and renamed into place, so a failed upload never leaves a
// truncated artifact behind.
type BlobStore struct {
	root string
}

// New prepares the archive root and checks that it accepts writes.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("local store: base_dir is required")
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local store: resolve %s: %w", cfg.BaseDir, err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local store: create %s: %w", root, err)
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("local store: %s is not writable: %w", root, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("local store: remove probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject implements archive.BlobStore and returns a file:// URI. The
// content type is not persisted.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("local store: create parent of %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("local store: stage %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("local store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local store: flush %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local store: commit %s: %w", path, err)
	}
	return "file://" + target, nil
}

// resolve maps an object path under the root, rejecting anything that would
// land outside it.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("local store: object path is required")
	}
	target := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local store: path %q escapes the archive root", path)
	}
	return target, nil
}
