// Package transport sends crawl requests and returns raw responses.
//
// Strategies are decorators over the Transport interface and are composed
// once, at construction time: a colly HTTP base (optionally promoted to a
// headless browser), wrapped by rate limiting, retries, a response cache and a
// record/replay file cache.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
)

// ErrUnsupportedMethod is returned by strategies that cannot send a request
// with a payload.
var ErrUnsupportedMethod = errors.New("transport: unsupported method")

// Request is a fully resolved request. A nil PostData means GET.
type Request struct {
	URL      string      `json:"url"`
	PostData any         `json:"postData,omitempty"`
	Headers  http.Header `json:"headers,omitempty"`
}

// Method returns the HTTP method implied by PostData.
func (r Request) Method() string {
	if r.PostData != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

// Body encodes PostData. Strings and byte slices are sent as-is, everything
// else as JSON.
func (r Request) Body() ([]byte, string, error) {
	switch v := r.PostData.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(v), "application/x-www-form-urlencoded", nil
	case []byte:
		return v, "application/x-www-form-urlencoded", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode post data: %w", err)
		}
		return b, "application/json", nil
	}
}

// Key identifies a request for caching as "url#<json post data>".
func (r Request) Key() string {
	if r.PostData == nil {
		return r.URL + "#"
	}
	b, err := json.Marshal(r.PostData)
	if err != nil {
		return r.URL + "#" + fmt.Sprint(r.PostData)
	}
	return r.URL + "#" + string(b)
}

// Response is a raw page.
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
	FromCache  bool        `json:"-"`
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Transport sends requests. cc may be nil and is only read.
type Transport interface {
	Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error)
}

// Lifecycle is implemented by transports that need to prepare before the crawl
// starts or persist state after it finishes.
type Lifecycle interface {
	WillStartCrawling(ctx context.Context) error
	DidFinishCrawling(ctx context.Context) error
}

// Get sends a GET request for rawURL.
func Get(ctx context.Context, t Transport, rawURL string, cc *crawlctx.Context) (*Response, error) {
	return t.Send(ctx, Request{URL: rawURL}, cc)
}

// Post sends data to rawURL.
func Post(ctx context.Context, t Transport, rawURL string, data any, cc *crawlctx.Context) (*Response, error) {
	return t.Send(ctx, Request{URL: rawURL, PostData: data}, cc)
}

// chain forwards lifecycle calls to the wrapped transport.
type chain struct {
	next Transport
}

func (c chain) WillStartCrawling(ctx context.Context) error {
	if lc, ok := c.next.(Lifecycle); ok {
		return lc.WillStartCrawling(ctx)
	}
	return nil
}

func (c chain) DidFinishCrawling(ctx context.Context) error {
	if lc, ok := c.next.(Lifecycle); ok {
		return lc.DidFinishCrawling(ctx)
	}
	return nil
}

func resourceOf(cc *crawlctx.Context) string {
	if cc == nil || cc.Resource == "" {
		return "unknown"
	}
	return string(cc.Resource)
}
