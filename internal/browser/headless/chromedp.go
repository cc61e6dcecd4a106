// Package headless drives Chrome through chromedp and exposes it as an
// archive.Browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

const contentScript = `(() => {
	const dt = document.doctype;
	const prefix = dt ? new XMLSerializer().serializeToString(dt) : "";
	return prefix + document.documentElement.outerHTML;
})()`

var errPageClosed = errors.New("page closed")

// Config controls how browsers are launched.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	NoSandbox         bool
	NavigationTimeout time.Duration
}

// Launcher implements archive.Browser. Every page gets a dedicated browser
// process started from the shared exec allocator.
type Launcher struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a launcher. No browser is started until NewPage is called.
func New(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 720
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Launcher{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Close cancels the allocator context, killing any browser still running.
func (l *Launcher) Close() {
	l.allocCancel()
}

// NewPage starts a browser and returns its first tab.
func (l *Launcher) NewPage(ctx context.Context) (archive.Page, error) {
	browserCtx, cancel := chromedp.NewContext(l.allocator)
	stop := forwardCancel(ctx, cancel)
	defer stop()

	p := newPage(browserCtx, cancel, l.cfg, l.logger)
	chromedp.ListenTarget(browserCtx, p.onEvent)

	setup := chromedp.Tasks{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.EmulateViewport(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight)),
	}
	if err := chromedp.Run(browserCtx, setup); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return p, nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	logger  *zap.Logger
	signals *loadSignals

	mu        sync.RWMutex
	handler   archive.RouteHandler
	documents map[string]network.RequestID

	closeOnce sync.Once
	closeErr  error
}

func newPage(ctx context.Context, cancel context.CancelFunc, cfg Config, logger *zap.Logger) *chromePage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &chromePage{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		logger:    logger,
		signals:   newLoadSignals(),
		documents: make(map[string]network.RequestID),
	}
}

func (p *chromePage) Route(handler archive.RouteHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *chromePage) routeHandler() archive.RouteHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

func (p *chromePage) Navigate(ctx context.Context, rawURL string) (archive.Response, error) {
	runCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if p.routeHandler() != nil {
		if err := chromedp.Run(runCtx, fetch.Enable()); err != nil {
			return nil, fmt.Errorf("enable interception: %w", err)
		}
	}

	p.signals.arm()
	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(rawURL))
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if resp == nil {
		return nil, nil
	}
	return &chromeResponse{
		page:    p,
		status:  int(resp.Status),
		headers: toHeaderMap(resp.Headers),
		url:     resp.URL,
	}, nil
}

func (p *chromePage) WaitForLoadState(ctx context.Context, state archive.LoadState, timeout time.Duration) error {
	ch, ok := p.signals.channel(state)
	if !ok {
		return fmt.Errorf("unsupported load state %q", state)
	}
	select {
	case <-ch:
		return nil
	default:
	}
	if timeout <= 0 {
		return archive.ErrSettleTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return archive.ErrSettleTimeout
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", state, ctx.Err())
	case <-p.ctx.Done():
		return errPageClosed
	}
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.Evaluate(contentScript, &html)); err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = chromedp.Cancel(p.ctx)
		p.cancel()
		if errors.Is(p.closeErr, context.Canceled) {
			p.closeErr = nil
		}
	})
	return p.closeErr
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) documentRequest(url string) (network.RequestID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.documents[url]
	return id, ok
}

func (p *chromePage) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.resolvePaused(e)
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		p.mu.Lock()
		p.documents[e.Response.URL] = e.RequestID
		p.mu.Unlock()
	case *page.EventFrameNavigated:
		if e.Frame != nil {
			p.signals.frameNavigated(string(e.Frame.ID), string(e.Frame.ParentID), string(e.Frame.LoaderID))
		}
	case *page.EventLifecycleEvent:
		p.signals.lifecycle(string(e.FrameID), string(e.LoaderID), e.Name)
	case *page.EventDomContentEventFired:
		p.signals.mark(archive.LoadStateDOMContentLoaded)
	case *page.EventLoadEventFired:
		p.signals.mark(archive.LoadStateLoad)
	}
}

func (p *chromePage) resolvePaused(ev *fetch.EventRequestPaused) {
	req := archive.InterceptedRequest{ResourceType: resourceType(ev.ResourceType)}
	if ev.Request != nil {
		req.URL = ev.Request.URL
	}
	decision := archive.Allow
	if handler := p.routeHandler(); handler != nil {
		decision = handler(req)
	}
	p.logger.Debug("intercepted request",
		zap.String("url", req.URL),
		zap.String("resource_type", req.ResourceType),
		zap.Stringer("decision", decision),
	)

	var action chromedp.Action = fetch.ContinueRequest(ev.RequestID)
	if decision == archive.Block {
		action = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient)
	}
	if err := chromedp.Run(p.ctx, action); err != nil && p.ctx.Err() == nil {
		p.logger.Debug("resolve intercepted request", zap.String("url", req.URL), zap.Error(err))
	}
}

type chromeResponse struct {
	page    *chromePage
	status  int
	headers map[string]string
	url     string
}

func (r *chromeResponse) Status() int { return r.status }

func (r *chromeResponse) Headers() map[string]string { return archive.CloneHeaders(r.headers) }

func (r *chromeResponse) URL() string { return r.url }

func (r *chromeResponse) Body(ctx context.Context) ([]byte, error) {
	id, ok := r.page.documentRequest(r.url)
	if !ok {
		return nil, fmt.Errorf("no document request recorded for %s", r.url)
	}
	var body []byte
	err := r.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := network.GetResponseBody(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("get response body: %w", err)
		}
		body = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func resourceType(rt network.ResourceType) string {
	return strings.ToLower(string(rt))
}

func toHeaderMap(src network.Headers) map[string]string {
	headers := make(map[string]string, len(src))
	for key, value := range src {
		name := strings.ToLower(key)
		var rendered string
		switch v := value.(type) {
		case string:
			rendered = v
		case []string:
			rendered = strings.Join(v, ", ")
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, entry := range v {
				parts = append(parts, fmt.Sprint(entry))
			}
			rendered = strings.Join(parts, ", ")
		default:
			rendered = fmt.Sprint(v)
		}
		if existing, ok := headers[name]; ok {
			rendered = existing + ", " + rendered
		}
		headers[name] = rendered
	}
	return headers
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
