package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// ErrBrowserUnavailable is returned by Noop when no browser is configured.
var ErrBrowserUnavailable = errors.New("headless browser not configured")

// Noop implements archive.Browser but never opens a page. It backs builds and
// tests that must not launch Chrome.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// NewPage always fails.
func (Noop) NewPage(_ context.Context) (archive.Page, error) {
	return nil, ErrBrowserUnavailable
}
