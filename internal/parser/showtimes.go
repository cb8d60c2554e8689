package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/reqtemplate"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// DefaultTimeLayout parses "time" fields without an explicit layout.
const DefaultTimeLayout = "15:04"

// Showtimes returns the default handler for showtimes pages.
//
// Parsing descends through the configured levels (movies, dates, periods,
// auditoria, versions, forEach, table cells and showtimes). Fields found on a
// level apply to every showtime below it. A showtime is emitted for every box
// of a showtimes level, or of the deepest level when none is configured.
func Showtimes(cfg *definition.ShowtimesConfig) ListHandler[model.Showtime] {
	return func(_ context.Context, resp *transport.Response, cc *crawlctx.Context) ([]*model.Showtime, string, error) {
		p, err := parse(resp)
		if err != nil {
			return nil, "", err
		}
		w := &walker{page: p, cc: cc}
		if err := w.walk(p.doc.Selection, &cfg.ParsingConfig, seed(cc), false); err != nil {
			return nil, "", err
		}
		next, err := p.nextPage(cfg.NextPage)
		if err != nil {
			return nil, "", err
		}
		return w.out, next, nil
	}
}

// showtimeState accumulates field values on the way down the levels.
type showtimeState struct {
	movieTitle  string
	movieID     string
	auditorium  string
	language    string
	subtitles   string
	bookingLink string
	is3D        bool

	date    time.Time
	hasDate bool
	clock   time.Duration
	hasTime bool
	startAt time.Time
	hasAt   bool
}

func seed(cc *crawlctx.Context) showtimeState {
	var st showtimeState
	if cc == nil {
		return st
	}
	if cc.Movie != nil {
		st.movieTitle = cc.Movie.Title
		st.movieID = cc.Movie.ID
	}
	if cc.HasDate {
		st.date = midnight(cc.Date)
		st.hasDate = true
	}
	return st
}

type walker struct {
	page *page
	cc   *crawlctx.Context
	out  []*model.Showtime
}

func (w *walker) walk(scope *goquery.Selection, level *definition.ParsingConfig, st showtimeState, showtimesLevel bool) error {
	var err error
	levelBoxes(scope, level.Box).EachWithBreak(func(_ int, box *goquery.Selection) bool {
		s := st
		if err = w.apply(box, level, &s); err != nil {
			return false
		}
		if showtimesLevel || !nested(level) {
			w.emit(box, s)
		}
		for _, child := range level.Children() {
			if err = w.walk(box, child, s, false); err != nil {
				return false
			}
		}
		if level.Table != nil {
			if err = w.table(box, level.Table, s); err != nil {
				return false
			}
		}
		if level.Showtimes != nil {
			err = w.walk(box, level.Showtimes, s, true)
		}
		return err == nil
	})
	return err
}

func (w *walker) table(scope *goquery.Selection, t *definition.TableConfig, st showtimeState) error {
	if t.Cells == nil {
		return nil
	}
	var err error
	levelBoxes(scope, t.Box).EachWithBreak(func(_ int, table *goquery.Selection) bool {
		levelBoxes(table, t.Cells.Box).EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			if t.Cells.Showtimes == nil {
				w.emit(cell, st)
				return true
			}
			err = w.walk(cell, t.Cells.Showtimes, st, true)
			return err == nil
		})
		return err == nil
	})
	return err
}

func (w *walker) apply(box *goquery.Selection, level *definition.ParsingConfig, s *showtimeState) error {
	names := make([]string, 0, len(level.Fields))
	for name := range level.Fields {
		names = append(names, name)
	}
	// "date" sorts before "start_at" and "time", which may borrow its year.
	sort.Strings(names)

	for _, name := range names {
		f := level.Fields[name]
		value, found, err := w.page.extract(box, f)
		if err != nil {
			return fmt.Errorf("showtime field %s: %w", name, err)
		}
		if name == "is_3d" {
			s.is3D = flag(f, value, found)
			continue
		}
		if value == "" {
			continue
		}
		switch name {
		case "movie_title", "title":
			s.movieTitle = value
		case "movie_id":
			s.movieID = value
		case "auditorium":
			s.auditorium = value
		case "language":
			s.language = value
		case "subtitles":
			s.subtitles = value
		case "booking_link":
			s.bookingLink = value
		case "date":
			if d, ok := w.parseTime(name, value, layoutOr(f, reqtemplate.DefaultDateFormat), *s); ok {
				s.date, s.hasDate = midnight(d), true
			}
		case "time":
			if t, ok := w.parseTime(name, value, layoutOr(f, DefaultTimeLayout), *s); ok {
				s.clock = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
				s.hasTime = true
			}
		case "start_at":
			if t, ok := w.parseTime(name, value, layoutOr(f, model.StartAtLayout), *s); ok {
				s.startAt, s.hasAt = t, true
			}
		}
	}
	if level.BookingLink != nil {
		link, _, err := w.page.extract(box, *level.BookingLink)
		if err != nil {
			return fmt.Errorf("booking link: %w", err)
		}
		if link != "" {
			s.bookingLink = w.page.resolve(link)
		}
	}
	return nil
}

// parseTime parses value with layout. Layouts without a year borrow it from
// the branch date.
func (w *walker) parseTime(field, value, layout string, s showtimeState) (time.Time, bool) {
	t, err := time.Parse(layout, value)
	if err != nil {
		unparsable(w.cc, field, value, err)
		return time.Time{}, false
	}
	if t.Year() == 0 {
		year := time.Now().Year()
		if s.hasDate {
			year = s.date.Year()
		}
		t = t.AddDate(year, 0, 0)
	}
	return t, true
}

func (w *walker) emit(box *goquery.Selection, s showtimeState) {
	sh := &model.Showtime{
		MovieTitle:  s.movieTitle,
		MovieID:     s.movieID,
		BookingLink: s.bookingLink,
		Auditorium:  s.auditorium,
		Language:    s.language,
		Subtitles:   s.subtitles,
		Is3D:        s.is3D,
	}
	if sh.BookingLink == "" && goquery.NodeName(box) == "a" {
		sh.BookingLink = w.page.resolve(strings.TrimSpace(box.AttrOr("href", "")))
	}
	switch {
	case s.hasAt:
		sh.StartAt = s.startAt.Format(model.StartAtLayout)
	case s.hasDate && s.hasTime:
		sh.StartAt = s.date.Add(s.clock).Format(model.StartAtLayout)
	}
	w.out = append(w.out, sh)
}

func nested(level *definition.ParsingConfig) bool {
	return len(level.Children()) > 0 || level.Table != nil || level.Showtimes != nil
}

// levelBoxes is boxes with one exception: the default periods box matches the
// scope itself when the scope is below the document body.
func levelBoxes(scope *goquery.Selection, box string) *goquery.Selection {
	sel := boxes(scope, box)
	if sel.Length() == 0 && box == definition.DefaultPeriodsBox {
		return scope
	}
	return sel
}

// flag interprets a boolean field. A bare selector is true when it matches.
func flag(f definition.Field, value string, found bool) bool {
	if f.Selector != "" && f.Attribute == "" && f.Pattern == "" && f.Value == "" {
		return found
	}
	switch strings.ToLower(value) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

func layoutOr(f definition.Field, fallback string) string {
	if f.Layout != "" {
		return f.Layout
	}
	return fallback
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
