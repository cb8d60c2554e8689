package parser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/reqtemplate"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// CinemaList returns the default handler for cinema list pages. Boxes that
// yield neither an id, a slug nor a name are skipped.
func CinemaList(cfg *definition.ListConfig) ListHandler[model.Cinema] {
	return func(_ context.Context, resp *transport.Response, cc *crawlctx.Context) ([]*model.Cinema, string, error) {
		p, err := parse(resp)
		if err != nil {
			return nil, "", err
		}
		var (
			out     []*model.Cinema
			walkErr error
		)
		boxes(p.doc.Selection, cfg.Box).EachWithBreak(func(_ int, box *goquery.Selection) bool {
			cinema := &model.Cinema{}
			if walkErr = p.fillCinema(box, cfg.Fields, cinema, cc); walkErr != nil {
				return false
			}
			if cinema.ID != "" || cinema.Slug != "" || cinema.Name != "" {
				out = append(out, cinema)
			}
			return true
		})
		if walkErr != nil {
			return nil, "", walkErr
		}
		next, err := p.nextPage(cfg.NextPage)
		if err != nil {
			return nil, "", err
		}
		return out, next, nil
	}
}

// CinemaDetails returns the default handler for cinema details pages. The
// fields are read from the whole document.
func CinemaDetails(cfg *definition.DetailsConfig) DetailsHandler[model.Cinema] {
	return func(_ context.Context, resp *transport.Response, cc *crawlctx.Context) (*model.Cinema, error) {
		p, err := parse(resp)
		if err != nil {
			return nil, err
		}
		cinema := &model.Cinema{}
		if err := p.fillCinema(p.doc.Selection, cfg.Fields, cinema, cc); err != nil {
			return nil, err
		}
		return cinema, nil
	}
}

func (p *page) fillCinema(scope *goquery.Selection, fields map[string]definition.Field, cinema *model.Cinema, cc *crawlctx.Context) error {
	for name, f := range fields {
		value, _, err := p.extract(scope, f)
		if err != nil {
			return fmt.Errorf("cinema field %s: %w", name, err)
		}
		if value == "" {
			continue
		}
		switch name {
		case "lat", "lon":
			coord, err := strconv.ParseFloat(value, 64)
			if err != nil {
				unparsable(cc, name, value, err)
				continue
			}
			if cinema.Location == nil {
				cinema.Location = &model.Location{}
			}
			if name == "lat" {
				cinema.Location.Lat = coord
			} else {
				cinema.Location.Lon = coord
			}
		default:
			cinema.Set(name, value)
		}
	}
	return nil
}

// MovieList returns the default handler for movie list pages.
func MovieList(cfg *definition.ListConfig) ListHandler[model.Movie] {
	return func(_ context.Context, resp *transport.Response, _ *crawlctx.Context) ([]*model.Movie, string, error) {
		p, err := parse(resp)
		if err != nil {
			return nil, "", err
		}
		var (
			out     []*model.Movie
			walkErr error
		)
		boxes(p.doc.Selection, cfg.Box).EachWithBreak(func(_ int, box *goquery.Selection) bool {
			movie := &model.Movie{}
			for name, f := range cfg.Fields {
				value, _, err := p.extract(box, f)
				if err != nil {
					walkErr = fmt.Errorf("movie field %s: %w", name, err)
					return false
				}
				if value != "" {
					movie.Set(name, value)
				}
			}
			if movie.ID != "" || movie.Title != "" || movie.Href != "" {
				out = append(out, movie)
			}
			return true
		})
		if walkErr != nil {
			return nil, "", walkErr
		}
		next, err := p.nextPage(cfg.NextPage)
		if err != nil {
			return nil, "", err
		}
		return out, next, nil
	}
}

// DateList returns the default handler for date list pages. Dates are
// normalized to the request template date format; entries whose date cannot
// be parsed are reported and skipped.
func DateList(cfg *definition.ListConfig) ListHandler[model.DatePage] {
	return func(_ context.Context, resp *transport.Response, cc *crawlctx.Context) ([]*model.DatePage, string, error) {
		p, err := parse(resp)
		if err != nil {
			return nil, "", err
		}
		dateField := cfg.Fields["date"]
		hrefField, hasHref := cfg.Fields["href"]
		layout := dateField.Layout
		if layout == "" {
			layout = reqtemplate.DefaultDateFormat
		}
		var (
			out     []*model.DatePage
			walkErr error
		)
		boxes(p.doc.Selection, cfg.Box).EachWithBreak(func(_ int, box *goquery.Selection) bool {
			raw, _, err := p.extract(box, dateField)
			if err != nil {
				walkErr = fmt.Errorf("date field: %w", err)
				return false
			}
			var href string
			if hasHref {
				if href, _, err = p.extract(box, hrefField); err != nil {
					walkErr = fmt.Errorf("href field: %w", err)
					return false
				}
			}
			if raw == "" {
				return true
			}
			day, err := time.Parse(layout, raw)
			if err != nil {
				unparsable(cc, "date", raw, err)
				return true
			}
			out = append(out, &model.DatePage{Date: day.Format(reqtemplate.DefaultDateFormat), Href: p.resolve(href)})
			return true
		})
		if walkErr != nil {
			return nil, "", walkErr
		}
		next, err := p.nextPage(cfg.NextPage)
		if err != nil {
			return nil, "", err
		}
		return out, next, nil
	}
}

// TemporarilyClosed returns a handler reporting whether the closed marker
// selector matches the page.
func TemporarilyClosed(cfg *definition.ClosedCheckConfig) CheckHandler {
	return func(_ context.Context, resp *transport.Response, _ *crawlctx.Context) (bool, error) {
		p, err := parse(resp)
		if err != nil {
			return false, err
		}
		return p.doc.Find(cfg.Selector).Length() > 0, nil
	}
}
