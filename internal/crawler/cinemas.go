package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/iterate"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/parser"
	"github.com/JakeFAU/showtimes-crawler/internal/reqtemplate"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// getCinemas returns the static cinemas of the definition or crawls them.
func (e *Engine) getCinemas(ctx context.Context, cc *crawlctx.Context) ([]*model.Cinema, error) {
	defer cc.TrackCallstack("getCinemas")()
	if len(e.def.Cinemas.Static) > 0 {
		cinemas := make([]*model.Cinema, len(e.def.Cinemas.Static))
		for i, c := range e.def.Cinemas.Static {
			cinema := *c
			cinemas[i] = &cinema
		}
		return cinemas, nil
	}
	return e.crawlCinemas(ctx, cc)
}

func (e *Engine) crawlCinemas(ctx context.Context, cc *crawlctx.Context) ([]*model.Cinema, error) {
	defer cc.TrackCallstack("crawlCinemas")()
	list := e.def.Cinemas.List
	if list == nil {
		return nil, fmt.Errorf("cinemas: %w", definition.ErrMissingListConfig)
	}
	e.tracker.AddTask(TaskPlaceholder, placeholderSteps, 1)
	cc.CurrentTask = "crawlCinemaList"

	return workOnRequestLists(ctx, e, &list.RequestConfig, cc, e.crawlCinemaList)
}

func (e *Engine) crawlCinemaList(ctx context.Context, req transport.Request, cc *crawlctx.Context) ([]*model.Cinema, error) {
	handler := e.hooks.CinemaList
	if handler == nil {
		handler = parser.CinemaList(e.def.Cinemas.List)
	}
	cinemas, err := crawlList(ctx, e, req, crawlctx.ResourceCinemaList, handler, &e.results.Cinemas, cc)
	if err != nil {
		return nil, err
	}
	if e.def.Cinemas.Details == nil {
		return cinemas, nil
	}

	e.logger.Info("crawling cinema details", zap.Int("cinemas", len(cinemas)))
	e.tracker.AddTask(TaskPlaceholder, len(cinemas)*placeholderSteps, 1)
	cc.CurrentTask = "crawlCinemaDetails"
	return iterate.Map(ctx, e.mapper, cinemas, cc, e.crawlCinemaDetails)
}

// crawlCinemaDetails merges the details page of cinema into it.
func (e *Engine) crawlCinemaDetails(ctx context.Context, cinema *model.Cinema, cc *crawlctx.Context) (*model.Cinema, error) {
	defer cc.TrackCallstack("crawlCinemaDetails")()
	cfg := e.def.Cinemas.Details
	cc.Resource = crawlctx.ResourceCinemaDetails
	cc.Cinema = cinema

	req := reqtemplate.Evaluate(transport.Request{URL: cfg.URL, PostData: cfg.PostData}, cc)
	cc.RequestURL = req.URL
	resp, err := e.transport.Send(ctx, req, cc)
	if err != nil {
		return nil, fmt.Errorf("fetch cinema details %s: %w", req.URL, err)
	}
	handler := e.hooks.CinemaDetails
	if handler == nil {
		handler = parser.CinemaDetails(cfg)
	}
	details, err := handler(ctx, resp, cc)
	if err != nil {
		return nil, fmt.Errorf("parse cinema details %s: %w", req.URL, err)
	}
	cinema.Merge(details)
	return cinema, nil
}
