package archive

import (
	"context"
	"io"
	"time"
)

// Decision is the verdict of the request policy for one sub-resource request.
type Decision int

// Request decisions.
const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// InterceptedRequest describes an outgoing request paused by the browser.
type InterceptedRequest struct {
	URL          string
	ResourceType string
}

// RouteHandler decides the fate of every intercepted request.
type RouteHandler func(InterceptedRequest) Decision

// Browser opens pages. Every page is backed by its own browser instance and is
// owned by exactly one pipeline run.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is one browser page driven through a single capture.
type Page interface {
	// Route installs the request interceptor. It must be called before Navigate.
	Route(handler RouteHandler)
	// Navigate loads url. A nil Response with a nil error means the browser
	// produced no response at all.
	Navigate(ctx context.Context, url string) (Response, error)
	// WaitForLoadState blocks until state is reached or timeout elapses, in
	// which case it returns ErrSettleTimeout.
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	// Screenshot returns a PNG of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// Content serializes the current document.
	Content(ctx context.Context) (string, error)
	Close() error
}

// Response is the main document response of a navigation.
type Response interface {
	Status() int
	Headers() map[string]string
	URL() string
	Body(ctx context.Context) ([]byte, error)
}

// ImageEncoder re-encodes a raster image to the archive codec.
type ImageEncoder interface {
	Reencode(raster []byte, quality int) ([]byte, error)
	ContentType() string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// OutcomeSink receives every finished outcome (notifications, ledgers).
type OutcomeSink interface {
	Record(ctx context.Context, outcome FetchOutcome) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
