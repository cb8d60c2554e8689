package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/app"
	"github.com/JakeFAU/showtimes-crawler/internal/config"
	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
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

const definitionYAML = `
crawler: {id: odeon}
cinemas: [{id: "1", slug: mitte, name: Odeon Mitte}]
showtimes:
  url: https://kino.example/:cinema.slug:/program
  box: .show
  fields:
    movie_title: b
    start_at: {selector: time, attribute: datetime, layout: '2006-01-02T15:04'}
`

func stubApp(t *testing.T, pages pageTransport) {
	t.Helper()
	original := newApp
	newApp = func(ctx context.Context, cfg config.Config, def *definition.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, def, logger, app.Overrides{Transport: pages, Registerer: prometheus.NewRegistry()})
	}
	t.Cleanup(func() { newApp = original })
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Odeon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionYAML), 0o600))
	return path
}

func TestCrawlWritesDocuments(t *testing.T) {
	stubApp(t, pageTransport{
		"https://kino.example/mitte/program": `<div class="show"><b>Dune</b><time datetime="2025-03-01T20:15"></time></div>`,
	})
	out := t.TempDir()

	err := execute("crawl", writeDefinition(t), "--output-dir", out, "--limit", "5", "--env-file", "")
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(out, "odeon_mitte.json"))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"movie_title": "Dune"`)
	assert.Contains(t, string(body), `"start_at": "2025-03-01T20:15:00"`)
}

func TestCrawlReportsFailures(t *testing.T) {
	stubApp(t, pageTransport{})

	err := execute("crawl", writeDefinition(t), "--dry-run", "--env-file", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl odeon")
}

func TestCrawlRequiresDefinition(t *testing.T) {
	require.Error(t, execute("crawl", "--env-file", ""))

	err := execute("crawl", filepath.Join(t.TempDir(), "missing.yaml"), "--env-file", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load definition")
}

func TestCrawlFlagsOverrideConfig(t *testing.T) {
	cmd := newCrawlCmd(&rootOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{
		"--limit", "3", "--concurrency", "2", "--timezone", "Europe/Berlin",
		"--cache-dir", "/tmp/replay", "--status-addr", ":9090", "--output-dir", "/tmp/out",
	}))
	opts := &crawlOptions{}
	// Flags are bound to the options captured by newCrawlCmd; read them back.
	f := cmd.Flags()
	opts.limit, _ = f.GetInt("limit")
	opts.concurrency, _ = f.GetInt("concurrency")
	opts.timezone, _ = f.GetString("timezone")
	opts.cacheDir, _ = f.GetString("cache-dir")
	opts.statusAddr, _ = f.GetString("status-addr")
	opts.outputDir, _ = f.GetString("output-dir")

	cfg := config.Config{
		HTTP:     config.HTTPConfig{TimeoutSeconds: 1},
		Headless: config.HeadlessConfig{Mode: "off"},
		Cache:    config.CacheConfig{Backend: config.BackendNone},
		Output:   config.OutputConfig{Writer: config.WriterMemory},
		Notify:   config.NotifyConfig{Backend: config.BackendNone},
	}
	require.NoError(t, opts.apply(cmd, &cfg))
	assert.Equal(t, 3, cfg.Crawl.Limit)
	assert.Equal(t, 2, cfg.Crawl.Concurrency)
	assert.Equal(t, "Europe/Berlin", cfg.Crawl.Timezone)
	assert.Equal(t, "/tmp/replay", cfg.Crawl.CacheDir)
	assert.Equal(t, ":9090", cfg.Status.Addr)
	assert.Equal(t, config.WriterLocal, cfg.Output.Writer)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)

	opts.dryRun = true
	require.NoError(t, opts.apply(cmd, &cfg))
	assert.Equal(t, config.WriterMemory, cfg.Output.Writer)
}
