package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// HeadlessConfig controls the chromedp transport.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured (default "body").
	WaitSelector string
}

// Headless renders GET requests in headless Chrome and returns the final DOM.
type Headless struct {
	cfg         HeadlessConfig
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewHeadless starts a browser allocator. Call Close when done.
func NewHeadless(cfg HeadlessConfig, logger *zap.Logger) (*Headless, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Headless{cfg: cfg, slots: slots, allocator: allocCtx, allocCancel: allocCancel, logger: logger}, nil
}

// Close shuts the browser down.
func (h *Headless) Close() {
	h.allocCancel()
}

// Send implements Transport. Requests with post data are rejected.
func (h *Headless) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	if req.PostData != nil {
		return nil, fmt.Errorf("headless %s: %w", req.URL, ErrUnsupportedMethod)
	}
	if err := h.acquire(ctx); err != nil {
		return nil, err
	}
	defer h.release()

	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, h.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &documentMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	h.logger.Debug("headless GET "+req.URL, zap.String("resource", resourceOf(cc)))
	var html, finalURL string
	err := chromedp.Run(taskCtx,
		h.setup(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(h.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObserveRequest(req.URL, "headless", "error", 0)
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	status, headers, responseURL := meta.resolve(req.URL, finalURL)
	if status >= http.StatusBadRequest {
		metrics.ObserveRequest(req.URL, "headless", "error", 0)
		return nil, &StatusError{URL: req.URL, Code: status}
	}
	metrics.ObserveRequest(req.URL, "headless", "ok", len(html))
	return &Response{URL: responseURL, StatusCode: status, Headers: headers, Body: []byte(html)}, nil
}

func (h *Headless) setup(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if h.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			extra := network.Headers{}
			for key, values := range headers {
				if len(values) > 0 {
					extra[key] = values[0]
				}
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (h *Headless) acquire(ctx context.Context) error {
	if h.slots == nil {
		return nil
	}
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (h *Headless) release() {
	if h.slots == nil {
		return
	}
	<-h.slots
}

// documentMeta captures the status and headers of the main document.
type documentMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *documentMeta) captureEvent(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *documentMeta) resolve(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, headers, u := m.status, m.headers, m.url
	if finalURL != "" {
		u = finalURL
	}
	if u == "" {
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, u
}
