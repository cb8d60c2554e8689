// Package crawler drives a crawl described by a crawler definition.
//
// The Engine discovers cinemas, walks movies, dates and showtimes pages for
// each of them and hands one result document per cinema to an output.Writer.
// Fan-out happens through the iterate package: every branch gets its own
// clone of the crawl context and the first error aborts the crawl.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/clock/system"
	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/iterate"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/parser"
	"github.com/JakeFAU/showtimes-crawler/internal/progress"
	"github.com/JakeFAU/showtimes-crawler/internal/retry"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// ErrUnsupportedResource is returned when a list crawl targets a resource
// without a result bucket.
var ErrUnsupportedResource = errors.New("crawler: unsupported resource")

// DefaultConcurrency bounds parallel branches when neither the options nor
// the definition set a limit.
const DefaultConcurrency = 4

// Progress task names.
const (
	TaskPlaceholder    = "CRAWL_SHOWTIMES_PLACEHOLDER"
	TaskWillStart      = "transport.willStartCrawling"
	TaskDidFinish      = "transport.didFinishCrawling"
	TaskBeforeCrawling = "beforeCrawling"
	TaskWorkOnCinema   = "workOnCinema"
	TaskProcessResult  = "processResult"
)

const (
	placeholderSteps      = 10
	workOnCinemaWeighting = 5
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Hooks customize a crawl. Every field is optional.
type Hooks struct {
	// BeforeCrawling runs after the transport started and before any page
	// is requested.
	BeforeCrawling func(ctx context.Context, cc *crawlctx.Context) error
	// BeforeSave may replace a result document before it is validated and
	// written.
	BeforeSave func(ctx context.Context, result *model.Result, cc *crawlctx.Context) (*model.Result, error)
	// Progress receives the aggregate progress after every change.
	Progress func(completed, total int)

	// Response handler overrides; the parser defaults apply otherwise.
	CinemaList    parser.ListHandler[model.Cinema]
	CinemaDetails parser.DetailsHandler[model.Cinema]
	MovieList     parser.ListHandler[model.Movie]
	DateList      parser.ListHandler[model.DatePage]
	Showtimes     parser.ListHandler[model.Showtime]
	ClosedCheck   parser.CheckHandler
}

// Options configure an Engine.
type Options struct {
	// Concurrency bounds parallel branches; zero uses the definition's value.
	Concurrency int
	// Limit truncates every mapped list; zero disables truncation.
	Limit int
	// Location is the timezone for date iteration; nil uses the definition's
	// timezone, then the local zone.
	Location *time.Location
	// Retry governs showtimes list retries.
	Retry retry.Policy
	// Clock defaults to the system wall clock.
	Clock   Clock
	Hooks   Hooks
	Tracker *progress.Tracker
	Logger  *zap.Logger
}

// Engine runs a crawl. Create it with New; an Engine runs one crawl at a time.
type Engine struct {
	def       *definition.Config
	transport transport.Transport
	writer    output.Writer
	tracker   *progress.Tracker
	mapper    *iterate.Mapper
	logger    *zap.Logger
	clock     Clock
	location  *time.Location
	retry     retry.Policy
	hooks     Hooks
	tracer    trace.Tracer
	results   *Results
}

// New validates its collaborators and returns an Engine.
func New(def *definition.Config, t transport.Transport, w output.Writer, opts Options) (*Engine, error) {
	if def == nil {
		return nil, errors.New("crawler: definition is required")
	}
	if t == nil {
		return nil, errors.New("crawler: transport is required")
	}
	if w == nil {
		return nil, errors.New("crawler: writer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("crawler").With(zap.String("crawler_id", def.Crawler.ID))

	location := opts.Location
	if location == nil {
		location = time.Local
		if def.Timezone != "" {
			loc, err := time.LoadLocation(def.Timezone)
			if err != nil {
				return nil, fmt.Errorf("load timezone %q: %w", def.Timezone, err)
			}
			location = loc
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = def.Concurrency
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = progress.NewTracker(progress.WithHook(ProgressLogger(logger, opts.Hooks.Progress)))
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	policy := opts.Retry
	if policy == nil {
		policy = retry.NewFixedPolicy(retry.DefaultAttempts, retry.DefaultInterval)
	}

	return &Engine{
		def:       def,
		transport: t,
		writer:    w,
		tracker:   tracker,
		mapper:    &iterate.Mapper{Concurrency: concurrency, Limit: opts.Limit, Steps: tracker},
		logger:    logger,
		clock:     clock,
		location:  location,
		retry:     policy,
		hooks:     opts.Hooks,
		tracer:    otel.Tracer("github.com/JakeFAU/showtimes-crawler/internal/crawler"),
		results:   &Results{},
	}, nil
}

// ProgressLogger returns a progress hook that logs every change at debug
// level and forwards the aggregate to hook, if set.
func ProgressLogger(logger *zap.Logger, hook func(completed, total int)) progress.Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(info progress.Info, change string) {
		logger.Debug("progress", zap.String("progress", info.String()), zap.String("update", change))
		if hook != nil {
			hook(info.Completed, info.Total)
		}
	}
}

// Results returns everything crawled so far.
func (e *Engine) Results() *Results {
	return e.results
}

// Tracker returns the progress tracker.
func (e *Engine) Tracker() *progress.Tracker {
	return e.tracker
}

// Definition returns the crawler definition.
func (e *Engine) Definition() *definition.Config {
	return e.def
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Crawl runs the whole crawl. Steps run strictly in order and the first
// failing step aborts the crawl.
func (e *Engine) Crawl(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "crawler.Crawl",
		trace.WithAttributes(attribute.String("crawler.id", e.def.Crawler.ID)))
	defer span.End()

	started := e.clock.Now()
	cc := crawlctx.New()
	defer cc.TrackCallstack("crawl")()

	for _, s := range e.plan(cc) {
		if err := s.run(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, s.name)
			e.logger.Error("crawl failed", zap.String("step", s.name), zap.Error(err))
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	e.logger.Info("crawl finished",
		zap.Int("cinemas", e.results.Cinemas.Len()),
		zap.Int("showtimes", e.results.Showtimes.Len()),
		zap.Duration("elapsed", e.clock.Now().Sub(started)),
	)
	return nil
}

// plan builds the crawl steps. Progress tasks are registered up front so the
// aggregate reflects the whole crawl from the start.
func (e *Engine) plan(cc *crawlctx.Context) []step {
	var (
		steps   []step
		cinemas []*model.Cinema
	)
	lifecycle, hasLifecycle := e.transport.(transport.Lifecycle)

	if hasLifecycle {
		e.tracker.AddTask(TaskWillStart, 1, 1)
		steps = append(steps, step{TaskWillStart, func(ctx context.Context) error {
			defer e.tracker.FinishTask(TaskWillStart)
			return lifecycle.WillStartCrawling(ctx)
		}})
	}

	if e.hooks.BeforeCrawling != nil {
		e.tracker.AddTask(TaskBeforeCrawling, 1, 1)
		steps = append(steps, step{TaskBeforeCrawling, func(ctx context.Context) error {
			if err := e.hooks.BeforeCrawling(ctx, cc); err != nil {
				return err
			}
			e.tracker.FinishTask(TaskBeforeCrawling)
			return nil
		}})
	}

	if e.def.IsTemporarilyClosed != nil {
		steps = append(steps, step{"isTemporarilyClosed", func(ctx context.Context) error {
			return e.crawlIsTemporarilyClosed(ctx, cc)
		}})
	}

	steps = append(steps, step{"getCinemas", func(ctx context.Context) error {
		found, err := e.getCinemas(ctx, cc)
		if err != nil {
			return err
		}
		e.results.Cinemas.Union(found)
		cinemas = found
		e.logger.Info("found cinemas", zap.Int("count", len(found)))
		return nil
	}})

	if e.def.HasShowtimes() {
		e.tracker.AddTask(TaskWorkOnCinema, 0, workOnCinemaWeighting)
		steps = append(steps, step{TaskWorkOnCinema, func(ctx context.Context) error {
			e.tracker.RemoveTask(TaskPlaceholder)
			cc.CurrentTask = TaskWorkOnCinema
			_, err := iterate.MapSeries(ctx, e.mapper, cinemas, cc, func(ctx context.Context, cinema *model.Cinema, cc *crawlctx.Context) (struct{}, error) {
				cc.Cinema = cinema
				return struct{}{}, e.workOnCinema(ctx, cc)
			})
			return err
		}})
	}

	if hasLifecycle {
		e.tracker.AddTask(TaskDidFinish, 1, 1)
		steps = append(steps, step{TaskDidFinish, func(ctx context.Context) error {
			defer e.tracker.FinishTask(TaskDidFinish)
			return lifecycle.DidFinishCrawling(ctx)
		}})
	}
	return steps
}

// CrawlShowtimesForCinema crawls and saves the showtimes of a single cinema
// without cinema discovery.
func (e *Engine) CrawlShowtimesForCinema(ctx context.Context, cinema *model.Cinema) error {
	if cinema == nil {
		return output.ErrNoCinema
	}
	cc := crawlctx.New()
	cc.Cinema = cinema
	return e.workOnCinema(ctx, cc)
}

func (e *Engine) crawlIsTemporarilyClosed(ctx context.Context, cc *crawlctx.Context) error {
	defer cc.TrackCallstack("crawlIsTemporarilyClosed")()
	cfg := e.def.IsTemporarilyClosed
	cc.Resource = crawlctx.ResourceClosedCheck

	resp, err := transport.Get(ctx, e.transport, cfg.URL, cc)
	if err != nil {
		return fmt.Errorf("fetch closed check %s: %w", cfg.URL, err)
	}
	check := e.hooks.ClosedCheck
	if check == nil {
		check = parser.TemporarilyClosed(cfg)
	}
	closed, err := check(ctx, resp, cc)
	if err != nil {
		return fmt.Errorf("parse closed check: %w", err)
	}
	cc.IsTemporarilyClosed = closed
	if closed {
		e.logger.Info("venue is temporarily closed")
	}
	return nil
}
