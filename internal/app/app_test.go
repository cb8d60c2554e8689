package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/showtimes-crawler/internal/config"
	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

type pageTransport map[string]string

func (p pageTransport) Send(_ context.Context, req transport.Request, _ *crawlctx.Context) (*transport.Response, error) {
	body, ok := p[req.URL]
	if !ok {
		return nil, fmt.Errorf("no page for %s", req.URL)
	}
	return &transport.Response{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func testConfig() config.Config {
	return config.Config{
		HTTP:     config.HTTPConfig{TimeoutSeconds: 5},
		Retry:    config.RetryConfig{Attempts: 1},
		Headless: config.HeadlessConfig{Mode: "off"},
		Cache:    config.CacheConfig{Backend: config.BackendNone},
		Output:   config.OutputConfig{Writer: config.WriterMemory},
		Notify:   config.NotifyConfig{Backend: config.BackendMemory, Topic: "documents"},
	}
}

func testDefinition(t *testing.T) *definition.Config {
	t.Helper()
	def, err := definition.Parse([]byte(`
crawler: {id: odeon}
cinemas: [{id: "1", slug: mitte, name: Odeon Mitte}]
showtimes:
  url: https://kino.example/:cinema.slug:/program
  box: .show
  fields:
    movie_title: b
    start_at: {selector: time, attribute: datetime, layout: '2006-01-02T15:04'}
`), "odeon")
	require.NoError(t, err)
	return def
}

func TestAppRunsCrawlAndNotifies(t *testing.T) {
	t.Parallel()

	pages := pageTransport{
		"https://kino.example/mitte/program": `<div class="show"><b>Dune</b><time datetime="2025-03-01T20:15"></time></div>`,
	}
	a, err := New(context.Background(), testConfig(), testDefinition(t), zaptest.NewLogger(t), Overrides{
		Transport:  pages,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.NoError(t, a.Run(context.Background()))

	docs := a.Memory().Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "odeon_mitte.json", docs[0].Name)

	pub, ok := a.Publisher().(*output.MemoryPublisher)
	require.True(t, ok)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "documents", msgs[0].Topic)
	note, ok := msgs[0].Payload.(output.Notification)
	require.True(t, ok)
	assert.Equal(t, a.RunID(), note.RunID)
	assert.Equal(t, 1, note.Showtimes)

	assert.Equal(t, 1, a.Engine().Results().Showtimes.Len())
	assert.NotNil(t, a.StatusServer().Handler())
}

func TestAppReportsCrawlFailures(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), testDefinition(t), nil, Overrides{
		Transport:  pageTransport{},
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer a.Close(context.Background()) //nolint:errcheck // test cleanup

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, a.Memory().Documents())
}

func TestNewRejectsInvalidSetup(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), testConfig(), nil, nil, Overrides{})
	require.Error(t, err)

	cfg := testConfig()
	cfg.Output.Writer = "s3"
	_, err = New(context.Background(), cfg, testDefinition(t), nil, Overrides{
		Transport:  pageTransport{},
		Registerer: prometheus.NewRegistry(),
	})
	require.ErrorContains(t, err, `unknown writer "s3"`)

	cfg = testConfig()
	cfg.Crawl.Timezone = "Mars/Olympus"
	_, err = New(context.Background(), cfg, testDefinition(t), nil, Overrides{
		Transport:  pageTransport{},
		Registerer: prometheus.NewRegistry(),
	})
	require.Error(t, err)
}

func TestNewBuildsTransportStack(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HTTP.MaxRetries = 1
	cfg.HTTP.RatePerSecond = 5
	cfg.Cache.Backend = config.BackendMemory
	cfg.Notify.Backend = config.BackendNone
	a, err := New(context.Background(), cfg, testDefinition(t), nil, Overrides{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	_, ok := a.transport.(*transport.Stack)
	assert.True(t, ok)
	assert.Nil(t, a.Publisher())
	require.NoError(t, a.Close(context.Background()))
}

func TestCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	a := &App{closers: []func() error{
		func() error { return errors.New("first") },
		func() error { return nil },
		func() error { return errors.New("second") },
	}}
	err := a.Close(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "first")
	assert.ErrorContains(t, err, "second")
}

// keptSpans survives provider shutdown, which resets the in-memory exporter.
type keptSpans struct {
	*tracetest.InMemoryExporter
}

func (keptSpans) Shutdown(context.Context) error { return nil }

func TestAppExportsCrawlSpans(t *testing.T) {
	exporter := keptSpans{tracetest.NewInMemoryExporter()}
	cfg := testConfig()
	cfg.Tracing = config.TracingConfig{Enabled: true, ServiceName: "showtimes-crawler"}
	pages := pageTransport{
		"https://kino.example/mitte/program": `<div class="show"><b>Dune</b><time datetime="2025-03-01T20:15"></time></div>`,
	}
	a, err := New(context.Background(), cfg, testDefinition(t), zaptest.NewLogger(t), Overrides{
		Transport:    pages,
		Registerer:   prometheus.NewRegistry(),
		SpanExporter: exporter,
	})
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	var names []string
	for _, span := range exporter.GetSpans() {
		names = append(names, span.Name)
	}
	assert.Contains(t, names, "crawler.Crawl")
}
