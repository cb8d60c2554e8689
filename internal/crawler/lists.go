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
	"github.com/JakeFAU/showtimes-crawler/internal/parser"
	"github.com/JakeFAU/showtimes-crawler/internal/reqtemplate"
	"github.com/JakeFAU/showtimes-crawler/internal/retry"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

// requestIterator crawls one request template on its own context.
type requestIterator[R any] func(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*R, error)

// workOnRequestLists runs iterator over every URL of cfg, in order. Templates
// with a date marker are expanded over the configured number of days and
// templates enumerating pages over those pages. Results are flattened in
// input order.
func workOnRequestLists[R any](ctx context.Context, e *Engine, cfg *definition.RequestConfig, cc *crawlctx.Context, iterator requestIterator[R]) ([]*R, error) {
	defer cc.TrackCallstack("workOnRequestLists")()

	reqs := make([]transport.Request, len(cfg.URLs))
	for i, u := range cfg.URLs {
		reqs[i] = transport.Request{URL: u, PostData: cfg.PostData}
	}
	lists, err := iterate.MapSeries(ctx, e.mapper, reqs, cc, func(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*R, error) {
		run := func(ctx context.Context, cc *crawlctx.Context) ([]*R, error) {
			return iterator(ctx, req, cc)
		}
		switch {
		case reqtemplate.HasDateMarker(req.URL, req.PostData):
			return iterateDates(ctx, e, cfg.URLDateCount, cc, run)
		case reqtemplate.HasPageMarker(req.URL, req.PostData):
			return iteratePages(ctx, e, req, cc, run)
		default:
			return run(ctx, cc)
		}
	})
	if err != nil {
		return nil, err
	}
	return iterate.Flatten(lists), nil
}

// iterateDates runs fn for count consecutive days starting today in the
// engine's timezone.
func iterateDates[R any](ctx context.Context, e *Engine, count int, cc *crawlctx.Context, fn func(context.Context, *crawlctx.Context) ([]*R, error)) ([]*R, error) {
	defer cc.TrackCallstack("iterateDates")()
	if count <= 0 {
		count = definition.DefaultURLDateCount
	}
	today := e.clock.Now().In(e.location)
	dates := make([]time.Time, count)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, i)
	}
	lists, err := iterate.Map(ctx, e.mapper, dates, cc, func(ctx context.Context, day time.Time, cc *crawlctx.Context) ([]*R, error) {
		cc.SetDate(day)
		return fn(ctx, cc)
	})
	if err != nil {
		return nil, err
	}
	return iterate.Flatten(lists), nil
}

// iteratePages runs fn once per page enumerated by the :page(...): marker.
func iteratePages[R any](ctx context.Context, e *Engine, req transport.Request, cc *crawlctx.Context, fn func(context.Context, *crawlctx.Context) ([]*R, error)) ([]*R, error) {
	defer cc.TrackCallstack("iteratePages")()
	pages := reqtemplate.StaticPages(req.URL, req.PostData)
	indexes := make([]int, len(pages))
	for i := range indexes {
		indexes[i] = i
	}
	lists, err := iterate.Map(ctx, e.mapper, indexes, cc, func(ctx context.Context, i int, cc *crawlctx.Context) ([]*R, error) {
		cc.Page = pages[i]
		cc.SetPageIndex(i)
		return fn(ctx, cc)
	})
	if err != nil {
		return nil, err
	}
	return iterate.Flatten(lists), nil
}

// crawlList fetches one list page, follows its next-page links and adds every
// item to bucket in page order. The page index advances on cc itself so
// callers observe how many pages were followed. A failing chain adds nothing.
func crawlList[T any](ctx context.Context, e *Engine, req transport.Request, resource crawlctx.Resource, handler parser.ListHandler[T], bucket *Bucket[T], cc *crawlctx.Context) ([]*T, error) {
	switch resource {
	case crawlctx.ResourceCinemaList, crawlctx.ResourceMovieList, crawlctx.ResourceDateList, crawlctx.ResourceShowtimes:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, resource)
	}
	if handler == nil {
		return nil, fmt.Errorf("no response handler for %s", resource)
	}
	defer cc.TrackCallstack("crawlList")()
	cc.Resource = resource
	cc.EnsurePageIndex()

	items, err := walkPages(ctx, e, req, handler, cc, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	bucket.Union(items)
	return items, nil
}

// walkPages fetches req and recurses into its next page. visited holds the
// normalized URLs of the chain so far; revisiting any of them ends the chain.
func walkPages[T any](ctx context.Context, e *Engine, req transport.Request, handler parser.ListHandler[T], cc *crawlctx.Context, visited map[string]struct{}) ([]*T, error) {
	resource := cc.Resource
	reqCC := cc.Clone()
	resolved := reqtemplate.Evaluate(req, reqCC)
	reqCC.RequestURL = resolved.URL
	visited[pageKey(resolved.URL)] = struct{}{}

	resp, err := e.transport.Send(ctx, resolved, reqCC)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", resource, resolved.URL, err)
	}
	items, next, err := handler(ctx, resp, reqCC)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse %s %s: %w", resource, resolved.URL, err))
	}
	e.logger.Debug("list crawled",
		zap.String("resource", string(resource)),
		zap.String("url", resolved.URL),
		zap.Int("items", len(items)),
		zap.Int("page_index", cc.PageIndex()),
	)
	if next == "" {
		return items, nil
	}

	base := resp.URL
	if base == "" {
		base = resolved.URL
	}
	next = resolveURL(base, next)
	if _, seen := visited[pageKey(next)]; seen {
		msg := "next page was already crawled, stopping pagination"
		if sameURL(next, resolved.URL) {
			msg = "next page equals current page, stopping pagination"
		}
		e.logger.Warn(msg,
			zap.String("resource", string(resource)),
			zap.String("url", next),
		)
		cc.AddWarning(warnings.Warning{
			Code:    warnings.CodePaginationLoop,
			Title:   "pagination loops on an already crawled page",
			Details: next,
		})
		return items, nil
	}

	cc.IncrementPageIndex()
	metrics.ObservePageFollowed(string(resource))
	more, err := walkPages(ctx, e, transport.Request{URL: next}, handler, cc, visited)
	if err != nil {
		return nil, err
	}
	return union(items, more), nil
}
