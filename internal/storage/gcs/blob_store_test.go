package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	ctx      context.Context
	buf      bytes.Buffer
	closed   bool
	closeErr error
	// ctxErrAtClose is the upload context's error when Close was called.
	ctxErrAtClose error
}

func (w *recordingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *recordingWriter) Close() error {
	w.closed = true
	w.ctxErrAtClose = w.ctx.Err()
	return w.closeErr
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("reader broke") }

type opened struct {
	object      string
	contentType string
}

func newTestStore(w *recordingWriter, seen *[]opened) *BlobStore {
	return &BlobStore{
		bucket: "aletis",
		open: func(ctx context.Context, object, contentType string) io.WriteCloser {
			*seen = append(*seen, opened{object: object, contentType: contentType})
			w.ctx = ctx
			return w
		},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "aletis"})
	assert.Error(t, err)
}

func TestPutObjectCommitsAndReturnsURI(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	var seen []opened
	store := newTestStore(w, &seen)

	uri, err := store.PutObject(context.Background(), "example.com/content.html", "text/html; charset=utf-8", strings.NewReader("<html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://aletis/example.com/content.html", uri)
	assert.Equal(t, "<html>", w.buf.String())
	assert.True(t, w.closed)
	assert.NoError(t, w.ctxErrAtClose, "a successful upload is committed with a live context")
	assert.Equal(t, []opened{{object: "example.com/content.html", contentType: "text/html; charset=utf-8"}}, seen)
}

func TestPutObjectAbandonsFailedUpload(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	var seen []opened
	store := newTestStore(w, &seen)

	_, err := store.PutObject(context.Background(), "k/body", "", failingReader{})
	require.ErrorContains(t, err, "reader broke")
	assert.True(t, w.closed)
	assert.ErrorIs(t, w.ctxErrAtClose, context.Canceled)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var seen []opened
	store := newTestStore(&recordingWriter{}, &seen)
	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	assert.Error(t, err)
	assert.Empty(t, seen)

	w := &recordingWriter{closeErr: errors.New("precondition failed")}
	store = newTestStore(w, &seen)
	_, err = store.PutObject(context.Background(), "k/body", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "commit k/body")
	assert.ErrorContains(t, err, "precondition failed")
}
