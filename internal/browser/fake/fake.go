// Package fake provides a scriptable in-memory archive.Browser for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// Site scripts how a page behaves when navigated to one URL.
type Site struct {
	Status      int
	Headers     map[string]string
	FinalURL    string
	Body        []byte
	BodyErr     error
	NoResponse  bool
	NavigateErr error
	// Requests are replayed through the installed route handler on navigation.
	Requests      []archive.InterceptedRequest
	LoadErrs      map[archive.LoadState]error
	Screenshot    []byte
	ScreenshotErr error
	HTML          string
	ContentErr    error
	// Delay is slept (honoring ctx) before navigation returns.
	Delay time.Duration
}

// Browser hands out scripted pages and remembers them for assertions.
type Browser struct {
	Sites      map[string]Site
	NewPageErr error

	mu    sync.Mutex
	pages []*Page
}

// NewBrowser creates a Browser serving sites.
func NewBrowser(sites map[string]Site) *Browser {
	return &Browser{Sites: sites}
}

// NewPage implements archive.Browser.
func (b *Browser) NewPage(_ context.Context) (archive.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := &Page{browser: b, decisions: make(map[string]archive.Decision)}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Pages returns every page opened so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page is a scripted archive.Page.
type Page struct {
	browser *Browser

	mu        sync.Mutex
	site      Site
	handler   archive.RouteHandler
	decisions map[string]archive.Decision
	waits     []archive.LoadState
	closed    int
}

// Route implements archive.Page.
func (p *Page) Route(handler archive.RouteHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Navigate implements archive.Page.
func (p *Page) Navigate(ctx context.Context, url string) (archive.Response, error) {
	site, ok := p.browser.Sites[url]
	if !ok {
		return nil, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	p.mu.Lock()
	p.site = site
	handler := p.handler
	p.mu.Unlock()

	if site.Delay > 0 {
		select {
		case <-time.After(site.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if handler != nil {
		for _, req := range site.Requests {
			decision := handler(req)
			p.mu.Lock()
			p.decisions[req.URL] = decision
			p.mu.Unlock()
		}
	}
	if site.NavigateErr != nil {
		return nil, site.NavigateErr
	}
	if site.NoResponse {
		return nil, nil
	}
	final := site.FinalURL
	if final == "" {
		final = url
	}
	return &Response{
		StatusCode: site.Status,
		Header:     site.Headers,
		FinalURL:   final,
		RawBody:    site.Body,
		BodyErr:    site.BodyErr,
	}, nil
}

// WaitForLoadState implements archive.Page.
func (p *Page) WaitForLoadState(_ context.Context, state archive.LoadState, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits = append(p.waits, state)
	return p.site.LoadErrs[state]
}

// Screenshot implements archive.Page.
func (p *Page) Screenshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.site.ScreenshotErr != nil {
		return nil, p.site.ScreenshotErr
	}
	if p.site.Screenshot == nil {
		return []byte("png"), nil
	}
	return p.site.Screenshot, nil
}

// Content implements archive.Page.
func (p *Page) Content(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.site.HTML, p.site.ContentErr
}

// Close implements archive.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

// Closed reports how many times Close was called.
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Waits returns the load states waited on, in order.
func (p *Page) Waits() []archive.LoadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]archive.LoadState(nil), p.waits...)
}

// Decision returns the route decision recorded for url.
func (p *Page) Decision(url string) (archive.Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.decisions[url]
	return d, ok
}

// Response is a scripted archive.Response.
type Response struct {
	StatusCode int
	Header     map[string]string
	FinalURL   string
	RawBody    []byte
	BodyErr    error
}

// Status implements archive.Response.
func (r *Response) Status() int { return r.StatusCode }

// Headers implements archive.Response.
func (r *Response) Headers() map[string]string { return archive.CloneHeaders(r.Header) }

// URL implements archive.Response.
func (r *Response) URL() string { return r.FinalURL }

// Body implements archive.Response.
func (r *Response) Body(_ context.Context) ([]byte, error) {
	if r.BodyErr != nil {
		return nil, r.BodyErr
	}
	return r.RawBody, nil
}

// ErrEncode is returned by Encoder when Fail is set.
var ErrEncode = errors.New("fake encode failure")

// Encoder is an archive.ImageEncoder that tags its input instead of encoding.
type Encoder struct {
	Fail bool
}

// Reencode implements archive.ImageEncoder.
func (e Encoder) Reencode(raster []byte, quality int) ([]byte, error) {
	if e.Fail {
		return nil, ErrEncode
	}
	return []byte(fmt.Sprintf("webp(q=%d):%s", quality, raster)), nil
}

// ContentType implements archive.ImageEncoder.
func (Encoder) ContentType() string { return "image/webp" }
