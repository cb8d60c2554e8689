package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/iterate"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/parser"
	"github.com/JakeFAU/showtimes-crawler/internal/reqtemplate"
	"github.com/JakeFAU/showtimes-crawler/internal/retry"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

// lateNightHour is the first hour that belongs to the listed day.
const lateNightHour = 6

// workOnCinema crawls every showtime of cc.Cinema and saves the result.
func (e *Engine) workOnCinema(ctx context.Context, cc *crawlctx.Context) error {
	defer cc.TrackCallstack("workOnCinema")()
	cc.ScopeWarnings()
	e.tracker.IncreaseTotalStepsBy(TaskProcessResult, 1)
	configs := e.def.ShowtimesConfigs()

	movies, err := e.getMovies(ctx, cc)
	if err != nil {
		return err
	}
	cc.CurrentTask = "getShowtimesForMovie"
	groups, err := iterate.MapSeries(ctx, e.mapper, movies, cc, func(ctx context.Context, movie *model.Movie, cc *crawlctx.Context) ([]*model.Showtime, error) {
		if movie != nil {
			cc.Movie = movie
			cc.Version = movie.Version
		}
		dates, err := e.getDates(ctx, cc)
		if err != nil {
			return nil, err
		}
		cc.CurrentTask = "getShowtimesForDate"
		lists, err := iterate.MapSeries(ctx, e.mapper, dates, cc, func(ctx context.Context, page *model.DatePage, cc *crawlctx.Context) ([]*model.Showtime, error) {
			if page != nil {
				e.selectDatePage(page, cc)
			}
			if len(configs) == 0 {
				return nil, nil
			}
			return e.getShowtimes(ctx, cc, configs)
		})
		if err != nil {
			return nil, err
		}
		return iterate.Flatten(lists), nil
	})
	if err != nil {
		return err
	}

	result := &model.Result{
		Crawler:   e.def.Crawler.Info(),
		Cinema:    cc.Cinema,
		Showtimes: iterate.Flatten(groups),
	}
	if err := e.processResult(ctx, result, cc); err != nil {
		return err
	}
	e.tracker.IncreaseCompletedSteps(TaskProcessResult)
	return nil
}

func (e *Engine) selectDatePage(page *model.DatePage, cc *crawlctx.Context) {
	cc.DateHref = page.Href
	day, err := time.ParseInLocation(reqtemplate.DefaultDateFormat, page.Date, e.location)
	if err != nil {
		cc.AddWarning(warnings.Warning{
			Code:    warnings.CodeUnparsableValue,
			Title:   "unparsable value",
			Details: fmt.Sprintf("date page %q: %v", page.Date, err),
		})
		return
	}
	cc.SetDate(day)
}

// getMovies returns the crawled movies, or a single nil movie when the
// definition has no movies stage.
func (e *Engine) getMovies(ctx context.Context, cc *crawlctx.Context) ([]*model.Movie, error) {
	if e.def.Movies == nil {
		return []*model.Movie{nil}, nil
	}
	defer cc.TrackCallstack("getMovies")()
	cc.CurrentTask = "getMovies"
	handler := e.hooks.MovieList
	if handler == nil {
		handler = parser.MovieList(e.def.Movies.List)
	}
	return workOnRequestLists(ctx, e, &e.def.Movies.List.RequestConfig, cc, func(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*model.Movie, error) {
		return crawlList(ctx, e, req, crawlctx.ResourceMovieList, handler, &e.results.Movies, cc)
	})
}

// getDates returns the crawled date pages, or a single nil page when the
// definition has no dates stage.
func (e *Engine) getDates(ctx context.Context, cc *crawlctx.Context) ([]*model.DatePage, error) {
	if e.def.Dates == nil {
		return []*model.DatePage{nil}, nil
	}
	defer cc.TrackCallstack("getDates")()
	cc.CurrentTask = "getDates"
	handler := e.hooks.DateList
	if handler == nil {
		handler = parser.DateList(e.def.Dates.List)
	}
	return workOnRequestLists(ctx, e, &e.def.Dates.List.RequestConfig, cc, func(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*model.DatePage, error) {
		return crawlList(ctx, e, req, crawlctx.ResourceDateList, handler, &e.results.DatePages, cc)
	})
}

func (e *Engine) getShowtimes(ctx context.Context, cc *crawlctx.Context, configs []*definition.ShowtimesConfig) ([]*model.Showtime, error) {
	cc.CurrentTask = "getShowtimes"
	lists, err := iterate.MapSeries(ctx, e.mapper, configs, cc, e.crawlShowtimes)
	if err != nil {
		return nil, err
	}
	return iterate.Flatten(lists), nil
}

func (e *Engine) crawlShowtimes(ctx context.Context, cfg *definition.ShowtimesConfig, cc *crawlctx.Context) ([]*model.Showtime, error) {
	defer cc.TrackCallstack("crawlShowtimes")()
	cc.Resource = crawlctx.ResourceShowtimes
	cc.CurrentTask = "crawlShowtimes"
	return workOnRequestLists(ctx, e, &cfg.RequestConfig, cc, func(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*model.Showtime, error) {
		return e.crawlShowtimesList(ctx, req, cfg, cc)
	})
}

// crawlShowtimesList crawls one showtimes request, including its pagination,
// and retries the whole chain on transient failures.
func (e *Engine) crawlShowtimesList(ctx context.Context, req transport.Request, cfg *definition.ShowtimesConfig, cc *crawlctx.Context) ([]*model.Showtime, error) {
	defer cc.TrackCallstack("crawlShowtimesList")()
	reqCC := cc.Clone()
	reqCC.DateFormat = cfg.URLDateFormat
	resolved := reqtemplate.Evaluate(req, reqCC)

	handler := e.hooks.Showtimes
	if handler == nil {
		handler = parser.Showtimes(cfg)
	}

	var showtimes []*model.Showtime
	retrier := retry.Retrier{Policy: e.retry, Logger: e.logger, Scope: "showtimes"}
	err := retrier.Do(ctx, "showtimes crawling from "+resolved.URL, func(ctx context.Context) error {
		items, err := crawlList(ctx, e, resolved, crawlctx.ResourceShowtimes, handler, &e.results.Showtimes, reqCC.Clone())
		if err != nil {
			return err
		}
		if !cfg.PreserveLateNightShows {
			adjustLateNightShowtimes(items)
		}
		showtimes = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return showtimes, nil
}

// adjustLateNightShowtimes moves showtimes starting before 6am to the next
// day. Websites list them under the evening they belong to.
func adjustLateNightShowtimes(showtimes []*model.Showtime) {
	for _, s := range showtimes {
		start, err := time.Parse(model.StartAtLayout, s.StartAt)
		if err != nil {
			continue
		}
		if start.Hour() < lateNightHour {
			s.StartAt = start.AddDate(0, 0, 1).Format(model.StartAtLayout)
		}
	}
}

// processResult validates and saves one cinema's document.
func (e *Engine) processResult(ctx context.Context, result *model.Result, cc *crawlctx.Context) error {
	defer cc.TrackCallstack("processResult")()
	var err error
	if e.hooks.BeforeSave != nil {
		if result, err = e.hooks.BeforeSave(ctx, result, cc); err != nil {
			return fmt.Errorf("before save hook: %w", err)
		}
	}
	if result == nil || result.Cinema == nil {
		return output.ErrNoCinema
	}
	if cc.IsTemporarilyClosed {
		result.Cinema.IsTemporarilyClosed = true
	}

	key := result.Cinema.Key()
	grouped := warnings.Group(append(cc.Warnings(), warnings.Validate(result)...), e.def.AcceptedWarnings)
	for _, w := range grouped.Print {
		e.logger.Warn("result warning",
			zap.String("cinema", key),
			zap.Int("code", w.Code),
			zap.String("title", w.Title),
			zap.String("details", w.Details),
		)
	}
	for _, a := range grouped.Accepted {
		e.logger.Debug("accepted warning",
			zap.String("cinema", key),
			zap.Int("code", a.Code),
			zap.String("title", a.Title),
			zap.String("reason", a.Reason),
		)
	}

	location, err := e.writer.Save(ctx, result, cc)
	if err != nil {
		return fmt.Errorf("save result for cinema %s: %w", key, err)
	}
	metrics.ObserveShowtimes(e.def.Crawler.ID, len(result.Showtimes))
	e.logger.Info("result saved",
		zap.String("cinema", key),
		zap.Int("showtimes", len(result.Showtimes)),
		zap.String("location", location),
	)
	return nil
}
