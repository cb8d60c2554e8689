// Package app wires run configuration and a crawler definition into a ready
// to run crawl, acting as the dependency container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/api"
	"github.com/JakeFAU/showtimes-crawler/internal/clock/system"
	"github.com/JakeFAU/showtimes-crawler/internal/config"
	"github.com/JakeFAU/showtimes-crawler/internal/crawler"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/headless/detector"
	"github.com/JakeFAU/showtimes-crawler/internal/id/uuid"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/output/gcs"
	"github.com/JakeFAU/showtimes-crawler/internal/output/local"
	"github.com/JakeFAU/showtimes-crawler/internal/output/postgres"
	"github.com/JakeFAU/showtimes-crawler/internal/output/pubsub"
	"github.com/JakeFAU/showtimes-crawler/internal/progress"
	"github.com/JakeFAU/showtimes-crawler/internal/progress/sinks"
	"github.com/JakeFAU/showtimes-crawler/internal/retry"
	"github.com/JakeFAU/showtimes-crawler/internal/telemetry"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// Overrides replace collaborators that would otherwise be built from the
// configuration.
type Overrides struct {
	// Transport replaces the composed transport stack.
	Transport transport.Transport
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// Hooks are passed to the engine.
	Hooks crawler.Hooks
	// SpanExporter receives spans when tracing is enabled.
	SpanExporter sdktrace.SpanExporter
}

// App holds the long-lived services of one crawl run.
type App struct {
	cfg       config.Config
	def       *definition.Config
	logger    *zap.Logger
	runID     string
	transport transport.Transport
	writer    output.Writer
	memory    *output.Memory
	publisher output.Publisher
	hub       *progress.Hub
	engine    *crawler.Engine
	closers   []func() error
}

// New builds every collaborator of the run. It fails fast: anything already
// opened is closed again when a later step fails.
func New(ctx context.Context, cfg config.Config, def *definition.Config, logger *zap.Logger, overrides Overrides) (_ *App, err error) {
	if def == nil {
		return nil, errors.New("app: definition is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a := &App{cfg: cfg, def: def, logger: logger.With(zap.String("run_id", runID)), runID: runID}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background()) //nolint:errcheck // already failing
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			CrawlerID:   def.Crawler.ID,
			RunID:       runID,
			Exporter:    overrides.SpanExporter,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	a.transport = overrides.Transport
	if a.transport == nil {
		if a.transport, err = a.buildTransport(ctx); err != nil {
			return nil, err
		}
	}
	if err := a.buildWriter(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(overrides.Registerer)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.HubConfig{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("progress")), promSink)
	tracker := progress.NewTracker(
		progress.WithHook(crawler.ProgressLogger(a.logger.Named("crawler"), nil)),
		progress.WithEmitter(a.hub, runID),
	)

	var location *time.Location
	if cfg.Crawl.Timezone != "" {
		if location, err = time.LoadLocation(cfg.Crawl.Timezone); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Crawl.Timezone, err)
		}
	}

	a.engine, err = crawler.New(def, a.transport, a.writer, crawler.Options{
		Concurrency: cfg.Crawl.Concurrency,
		Limit:       cfg.Crawl.Limit,
		Location:    location,
		Retry:       retry.NewFixedPolicy(cfg.Retry.Attempts, cfg.RetryInterval()),
		Clock:       system.New(),
		Hooks:       overrides.Hooks,
		Tracker:     tracker,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build crawler: %w", err)
	}
	a.logger.Info("crawl prepared",
		zap.String("crawler_id", def.Crawler.ID),
		zap.String("writer", cfg.Output.Writer),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("headless", cfg.Headless.Mode),
	)
	return a, nil
}

func (a *App) buildTransport(ctx context.Context) (transport.Transport, error) {
	cfg := a.cfg
	initial, maxDelay := cfg.Backoff()
	tc := transport.Config{
		Collector: transport.CollectorConfig{
			UserAgent:       cfg.HTTP.UserAgent,
			RandomUserAgent: cfg.HTTP.RandomUserAgent,
			ProxyURI:        cfg.HTTP.ProxyURI,
			RespectRobots:   cfg.HTTP.RespectRobots,
			Timeout:         cfg.RequestTimeout(),
		},
		HeadlessMode: cfg.Headless.Mode,
		Headless: transport.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			WaitSelector:      cfg.Headless.WaitSelector,
		},
		Detector:      detector.NewHeuristic(cfg.Headless.PromotionThresh, cfg.Headless.Expect...),
		RatePerSecond: cfg.HTTP.RatePerSecond,
		RateBurst:     cfg.HTTP.RateBurst,
		RecordDir:     cfg.Crawl.CacheDir,
		CrawlerID:     a.def.Crawler.ID,
	}
	if a.def.UseRandomUserAgent != nil {
		tc.Collector.RandomUserAgent = *a.def.UseRandomUserAgent
	}
	if a.def.ProxyURI != "" {
		tc.Collector.ProxyURI = a.def.ProxyURI
	}
	if cfg.HTTP.MaxRetries > 0 {
		tc.Retry = retry.NewExponentialPolicy(cfg.HTTP.MaxRetries+1, initial, maxDelay)
	}

	switch cfg.Cache.Backend {
	case config.BackendMemory:
		tc.Store = transport.NewMemoryStore()
	case config.BackendRedis:
		store, err := transport.NewRedisStore(ctx, transport.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      cfg.CacheTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect response cache: %w", err)
		}
		tc.Store = store
	}

	stack, err := transport.Build(tc, a.logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	a.closers = append(a.closers, stack.Close)
	return stack, nil
}

func (a *App) buildWriter(ctx context.Context) error {
	out := a.cfg.Output
	switch out.Writer {
	case config.WriterLocal:
		w, err := local.New(local.Config{Dir: out.Dir})
		if err != nil {
			return fmt.Errorf("open local writer: %w", err)
		}
		a.writer = w
	case config.WriterGCS:
		w, err := gcs.Open(ctx, gcs.Config{Bucket: out.GCS.Bucket, Prefix: out.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("open gcs writer: %w", err)
		}
		a.closers = append(a.closers, w.Close)
		a.writer = w
	case config.WriterPostgres:
		w, err := postgres.New(ctx, postgres.Config{DSN: out.Postgres.DSN, Table: out.Postgres.Table})
		if err != nil {
			return fmt.Errorf("open postgres writer: %w", err)
		}
		a.closers = append(a.closers, func() error { w.Close(); return nil })
		a.writer = w
	case config.WriterMemory:
		a.memory = output.NewMemory()
		a.writer = a.memory
	default:
		return fmt.Errorf("unknown writer %q", out.Writer)
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	n := a.cfg.Notify
	switch n.Backend {
	case "", config.BackendNone:
		return nil
	case config.BackendMemory:
		a.publisher = output.NewMemoryPublisher()
	case config.BackendPubSub:
		p, err := pubsub.New(ctx, n.ProjectID, n.Topic)
		if err != nil {
			return fmt.Errorf("connect pubsub: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.publisher = p
	default:
		return fmt.Errorf("unknown notify backend %q", n.Backend)
	}
	a.writer = output.NewNotifying(a.writer, a.publisher, n.Topic, a.runID, a.logger.Named("notify"))
	return nil
}

// RunID identifies this run in logs, progress events and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Memory returns the in-memory writer, or nil for other writers.
func (a *App) Memory() *output.Memory {
	return a.memory
}

// Publisher returns the notification publisher, or nil when disabled.
func (a *App) Publisher() output.Publisher {
	return a.publisher
}

// StatusServer returns a status server reporting on this run.
func (a *App) StatusServer() *api.Server {
	status := api.Status{
		RunID:     a.runID,
		CrawlerID: a.def.Crawler.ID,
		Progress:  a.engine.Tracker(),
		Results:   a.engine.Results(),
	}
	if a.memory != nil {
		status.Documents = a.memory
	}
	return api.NewServer(status, a.logger.Named("api"))
}

// Run crawls the definition. When a status address is configured the status
// server runs alongside the crawl and stops with it.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Status.Addr == "" {
		return a.engine.Crawl(ctx)
	}
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- a.StatusServer().Serve(serveCtx, a.cfg.Status.Addr) }()

	err := a.engine.Crawl(ctx)
	stop()
	if serveErr := <-served; serveErr != nil {
		a.logger.Warn("status server failed", zap.Error(serveErr))
	}
	return err
}

// Close flushes progress and releases every opened resource.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
