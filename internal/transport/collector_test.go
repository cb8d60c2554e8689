package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorGetAndPost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
			_, _ = w.Write(append([]byte("posted "), body...))
		default:
			w.Header().Set("X-Trace", r.Header.Get("X-Trace"))
			_, _ = w.Write([]byte("<html>program</html>"))
		}
	}))
	defer srv.Close()

	c, err := NewCollector(CollectorConfig{UserAgent: "showtimes-test", Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), Request{URL: srv.URL + "/program", Headers: http.Header{"X-Trace": {"abc"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>program</html>", resp.Text())
	assert.Equal(t, "abc", resp.Headers.Get("X-Trace"))

	resp, err = c.Send(context.Background(), Request{URL: srv.URL + "/api", PostData: map[string]any{"day": 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, `posted {"day":1}`, resp.Text())
	assert.Equal(t, "application/json", resp.Headers.Get("X-Content-Type"))

	// same URL twice must not be rejected as already visited
	_, err = c.Send(context.Background(), Request{URL: srv.URL + "/program"}, nil)
	require.NoError(t, err)
}

func TestCollectorReportsHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewCollector(CollectorConfig{}, nil)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), Request{URL: srv.URL}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestCollectorHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewCollector(CollectorConfig{}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, Request{URL: srv.URL}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollectorHooksCaptureResponseAndError(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(CollectorConfig{}, nil)
	require.NoError(t, err)
	hooks := &stubHooks{}
	var (
		result  *Response
		sendErr error
	)
	c.configureHooks(hooks, Request{URL: "https://cinema.example"}, "application/json", &result, &sendErr)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "application/json", collyReq.Headers.Get("Content-Type"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, sendErr, "boom")
	hooks.onError(&colly.Response{StatusCode: 502}, errors.New("Bad Gateway"))
	var se *StatusError
	require.ErrorAs(t, sendErr, &se)
	assert.Equal(t, 502, se.Code)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
