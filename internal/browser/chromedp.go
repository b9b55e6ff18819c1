// Package browser drives headless Chrome sessions via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/hirewire/jobscraper/internal/scrape"
)

// Config controls the behavior of the browser backend.
type Config struct {
	// WSEndpoint is the DevTools websocket address of a remote Chrome
	// instance. Empty means launch a local headless browser.
	WSEndpoint        string
	UserAgent         string
	NavigationTimeout time.Duration
	FieldReadTimeout  time.Duration
	// BlockedURLPatterns are request patterns the browser refuses to load,
	// e.g. *.png, to keep page loads cheap.
	BlockedURLPatterns []string
}

// Browser owns a chromedp allocator and hands out page sessions.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a browser backend. With a WSEndpoint configured it attaches
// to an already running Chrome over DevTools; otherwise it launches a
// local headless instance.
func New(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.FieldReadTimeout <= 0 {
		cfg.FieldReadTimeout = 10 * time.Second
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.WSEndpoint != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.WSEndpoint)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewSession opens a fresh browser tab.
func (b *Browser) NewSession(_ context.Context) (scrape.Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	return &session{
		cfg:    b.cfg,
		ctx:    tabCtx,
		cancel: tabCancel,
		meta:   meta,
	}, nil
}

// session is one live tab. Navigate and the DOM reads each carry their own
// timeout; exceeding it reports scrape.ErrRenderTimeout.
type session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
}

// Navigate loads the URL, waits for the DOM to be ready, and returns the
// status code of the document response.
func (s *session) Navigate(ctx context.Context, url string) (int, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return 0, s.navErr(url, err)
	}
	return s.meta.statusWithFallback(), nil
}

// InnerText reads the text content of the first node matching the selector.
func (s *session) InnerText(ctx context.Context, selector string) (string, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.FieldReadTimeout)
	defer cancel()

	var text string
	err := chromedp.Run(runCtx, chromedp.Text(selector, &text, chromedp.ByQuery))
	if err != nil {
		return "", s.fieldErr(selector, err)
	}
	return text, nil
}

// AllTextContents reads the text content of every node matching the selector.
func (s *session) AllTextContents(ctx context.Context, selector string) ([]string, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.FieldReadTimeout)
	defer cancel()

	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(n => n.textContent)`, selector)
	var texts []string
	err := chromedp.Run(runCtx, chromedp.Evaluate(script, &texts))
	if err != nil {
		return nil, s.fieldErr(selector, err)
	}
	return texts, nil
}

// HTML returns the rendered document markup.
func (s *session) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.FieldReadTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", fmt.Errorf("read document html: %w", err)
	}
	return html, nil
}

// Close tears down the tab.
func (s *session) Close() {
	s.cancel()
}

func (s *session) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx := s.ctx
	if done := ctx.Done(); done != nil {
		var stop context.CancelFunc
		runCtx, stop = context.WithCancel(runCtx)
		go func() {
			select {
			case <-done:
				stop()
			case <-runCtx.Done():
			}
		}()
	}
	return context.WithTimeout(runCtx, timeout)
}

// navErr maps the navigation timeout onto the render-timeout sentinel so
// the task-level retry tier sees it as transient. The session's own
// deadline is the only one in play here; caller cancellation surfaces as
// context.Canceled and still aborts.
func (s *session) navErr(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("navigate %s: %w", url, scrape.ErrRenderTimeout)
	}
	return fmt.Errorf("navigate %s: %w", url, err)
}

func (s *session) fieldErr(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("read %q: %w", selector, scrape.ErrRenderTimeout)
	}
	return fmt.Errorf("read %q: %w", selector, err)
}

func (s *session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.BlockedURLPatterns) > 0 {
			if err := network.SetBlockedURLs(s.cfg.BlockedURLPatterns).Do(ctx); err != nil {
				return fmt.Errorf("set blocked urls: %w", err)
			}
		}
		return nil
	})
}

// AssetBlockPatterns converts file extensions (png, css, ...) into the
// wildcard patterns the DevTools protocol expects.
func AssetBlockPatterns(extensions []string) []string {
	patterns := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if ext == "" {
			continue
		}
		patterns = append(patterns, "*."+ext)
	}
	return patterns
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.mu.Unlock()
}

// statusWithFallback returns the captured document status. Some targets
// never emit the response event (cached documents), so 200 is assumed.
func (m *responseMeta) statusWithFallback() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}
