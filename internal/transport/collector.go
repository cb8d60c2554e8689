package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// CollectorConfig controls the colly-backed HTTP transport.
type CollectorConfig struct {
	UserAgent       string
	RandomUserAgent bool
	ProxyURI        string
	RespectRobots   bool
	Timeout         time.Duration
}

// Collector sends requests with a cloned colly collector per request.
type Collector struct {
	cfg    CollectorConfig
	base   *colly.Collector
	logger *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollector builds the HTTP transport.
func NewCollector(cfg CollectorConfig, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.DetectCharset = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.ProxyURI != "" {
		if err := c.SetProxy(cfg.ProxyURI); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	return &Collector{cfg: cfg, base: c, logger: logger}, nil
}

// Send implements Transport.
func (t *Collector) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	body, contentType, err := req.Body()
	if err != nil {
		return nil, err
	}
	var (
		result  *Response
		sendErr error
	)
	collector := t.base.Clone()
	if t.cfg.RandomUserAgent {
		extensions.RandomUserAgent(collector)
	}
	t.configureHooks(collector, req, contentType, &result, &sendErr)

	t.logger.Debug(req.Method()+" "+req.URL, zap.String("resource", resourceOf(cc)))
	err = runCollector(ctx, func() error {
		if body == nil {
			return collector.Visit(req.URL)
		}
		hdr := http.Header{}
		hdr.Set("Content-Type", contentType)
		return collector.Request(http.MethodPost, req.URL, bytes.NewReader(body), nil, hdr)
	}, &sendErr)
	if err != nil {
		metrics.ObserveRequest(req.URL, "network", "error", 0)
		return nil, err
	}
	if result == nil {
		metrics.ObserveRequest(req.URL, "network", "error", 0)
		return nil, fmt.Errorf("colly: no response for %s", req.URL)
	}
	metrics.ObserveRequest(req.URL, "network", "ok", len(result.Body))
	return result, nil
}

func (t *Collector) configureHooks(hooks collectorHooks, req Request, contentType string, result **Response, sendErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		if contentType != "" && r.Headers.Get("Content-Type") == "" {
			r.Headers.Set("Content-Type", contentType)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*sendErr = &StatusError{URL: req.URL, Code: r.StatusCode}
			return
		}
		*sendErr = err
	})
}

func runCollector(ctx context.Context, visit func() error, sendErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if *sendErr != nil {
			return fmt.Errorf("colly response failed: %w", *sendErr)
		}
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
