package transport

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/retry"
)

func TestCachedServesRepeatedRequestsFromStore(t *testing.T) {
	t.Parallel()

	stub := &stubTransport{}
	store := NewMemoryStore()
	c := NewCached(stub, store, nil)

	req := Request{URL: "https://cinema.example/api", PostData: map[string]any{"day": 1}}
	first, err := c.Send(context.Background(), req, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	second, err := c.Send(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	_, err = c.Send(context.Background(), Request{URL: req.URL, PostData: map[string]any{"day": 2}}, nil)
	require.NoError(t, err)
	assert.Len(t, stub.Requests(), 2)
	assert.Equal(t, 2, store.Len())
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	t.Parallel()

	stub := &stubTransport{respond: func(int, Request) (*Response, error) { return nil, errNetwork }}
	store := NewMemoryStore()
	_, err := NewCached(stub, store, nil).Send(context.Background(), Request{URL: "https://x.example"}, nil)
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 0, store.Len())
}

func TestRetryingRetriesServerErrorsOnly(t *testing.T) {
	t.Parallel()

	stub := &stubTransport{respond: func(call int, req Request) (*Response, error) {
		if call < 3 {
			return nil, &StatusError{URL: req.URL, Code: http.StatusBadGateway}
		}
		return &Response{URL: req.URL, StatusCode: http.StatusOK}, nil
	}}
	r := NewRetrying(stub, retry.NewFixedPolicy(3, 0), nil)
	resp, err := r.Send(context.Background(), Request{URL: "https://cinema.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, stub.Requests(), 3)

	notFound := &stubTransport{respond: func(_ int, req Request) (*Response, error) {
		return nil, &StatusError{URL: req.URL, Code: http.StatusNotFound}
	}}
	_, err = NewRetrying(notFound, retry.NewFixedPolicy(3, 0), nil).Send(context.Background(), Request{URL: "https://cinema.example"}, nil)
	require.Error(t, err)
	assert.Len(t, notFound.Requests(), 1)
}

func TestPromotingRendersFlaggedPages(t *testing.T) {
	t.Parallel()

	probe := &stubTransport{respond: func(_ int, req Request) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: 200, Body: []byte(`<div id="app"></div>`)}, nil
	}}
	renderer := &stubTransport{respond: func(_ int, req Request) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: 200, Body: []byte(`<div class="showtime">20:00</div>`)}, nil
	}}
	p := NewPromoting(probe, renderer, detectorFunc(func(r *Response) bool { return string(r.Body) == `<div id="app"></div>` }), nil)

	resp, err := p.Send(context.Background(), Request{URL: "https://cinema.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `<div class="showtime">20:00</div>`, resp.Text())

	_, err = p.Send(context.Background(), Request{URL: "https://cinema.example/api", PostData: "a=1"}, nil)
	require.NoError(t, err)
	assert.Len(t, probe.Requests(), 2)
	assert.Len(t, renderer.Requests(), 1)

	always := NewPromoting(probe, renderer, nil, nil)
	_, err = always.Send(context.Background(), Request{URL: "https://cinema.example/b"}, nil)
	require.NoError(t, err)
	assert.Len(t, probe.Requests(), 2)
	assert.Len(t, renderer.Requests(), 2)
}

func TestPromotingFallsBackToProbeWhenRenderFails(t *testing.T) {
	t.Parallel()

	probe := &stubTransport{}
	renderer := &stubTransport{respond: func(int, Request) (*Response, error) { return nil, ErrUnsupportedMethod }}
	p := NewPromoting(probe, renderer, detectorFunc(func(*Response) bool { return true }), nil)
	resp, err := p.Send(context.Background(), Request{URL: "https://cinema.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok https://cinema.example", resp.Text())
}

func TestRateLimitedThrottlesPerHost(t *testing.T) {
	t.Parallel()

	stub := &stubTransport{}
	r := NewRateLimited(stub, 20, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := r.Send(context.Background(), Request{URL: "https://cinema.example/p"}, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Send(ctx, Request{URL: "https://cinema.example/p"}, nil)
	require.Error(t, err)
}

func TestRecorderRecordsThenReplays(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := &stubTransport{}
	rec := NewRecorder(stub, dir, "kino_example", nil)
	require.NoError(t, rec.WillStartCrawling(context.Background()))
	_, err := rec.Send(context.Background(), Request{URL: "https://cinema.example/a"}, nil)
	require.NoError(t, err)
	require.NoError(t, rec.DidFinishCrawling(context.Background()))
	assert.Equal(t, 1, stub.started)
	assert.Equal(t, 1, stub.finished)

	_, err = os.Stat(filepath.Join(dir, "kino_example.replay.json"))
	require.NoError(t, err)

	offline := &stubTransport{respond: func(int, Request) (*Response, error) { return nil, errNetwork }}
	replay := NewRecorder(offline, dir, "kino_example", nil)
	require.NoError(t, replay.WillStartCrawling(context.Background()))
	resp, err := replay.Send(context.Background(), Request{URL: "https://cinema.example/a"}, nil)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, "ok https://cinema.example/a", resp.Text())
	assert.Empty(t, offline.Requests())

	_, err = replay.Send(context.Background(), Request{URL: "https://cinema.example/b"}, nil)
	require.ErrorIs(t, err, errNetwork)
}

func TestRecorderRejectsCorruptRecording(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.replay.json"), []byte("{"), 0o600))
	err := NewRecorder(&stubTransport{}, dir, "broken", nil).WillStartCrawling(context.Background())
	require.Error(t, err)
}

func TestBuildComposesStrategies(t *testing.T) {
	t.Parallel()

	stack, err := Build(Config{
		RatePerSecond: 5,
		Retry:         retry.NewFixedPolicy(2, 0),
		Store:         NewMemoryStore(),
		RecordDir:     t.TempDir(),
		CrawlerID:     "kino",
	}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, stack.Close()) }()

	rec, ok := stack.Transport.(*Recorder)
	require.True(t, ok)
	cached, ok := rec.next.(*Cached)
	require.True(t, ok)
	retrying, ok := cached.next.(*Retrying)
	require.True(t, ok)
	limited, ok := retrying.next.(*RateLimited)
	require.True(t, ok)
	_, ok = limited.next.(*Collector)
	require.True(t, ok)

	require.NoError(t, stack.WillStartCrawling(context.Background()))
	require.NoError(t, stack.DidFinishCrawling(context.Background()))

	_, err = Build(Config{HeadlessMode: "sometimes"}, nil)
	require.Error(t, err)
}

type detectorFunc func(*Response) bool

func (f detectorFunc) ShouldPromote(r *Response) bool { return f(r) }
