// Package warnings validates crawl results and groups the findings for reporting.
package warnings

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// Known warning codes.
const (
	CodeNoShowtimes        = 1
	CodeMissingStartAt     = 2
	CodeMissingCinemaName  = 3
	CodeDuplicateShowtime  = 4
	CodeMissingMovieTitle  = 5
	CodeUnparsableValue    = 10
	CodeUnresolvedTemplate = 11
	CodePaginationLoop     = 12
)

// Warning is a non-fatal finding about a result or the crawl that produced it.
type Warning struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
}

func (w Warning) String() string {
	if w.Details == "" {
		return fmt.Sprintf("[%d] %s", w.Code, w.Title)
	}
	return fmt.Sprintf("[%d] %s: %s", w.Code, w.Title, w.Details)
}

// Log collects warnings from concurrent crawl branches.
type Log struct {
	mu    sync.Mutex
	items []Warning
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Add appends a warning.
func (l *Log) Add(w Warning) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, w)
}

// Items returns a copy of the collected warnings.
func (l *Log) Items() []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Warning, len(l.items))
	copy(out, l.items)
	return out
}

// Validate inspects a finished result document.
func Validate(result *model.Result) []Warning {
	var out []Warning
	if result == nil {
		return out
	}
	if result.Cinema != nil && result.Cinema.Name == "" {
		out = append(out, Warning{Code: CodeMissingCinemaName, Title: "cinema has no name", Details: result.Cinema.Key()})
	}
	if len(result.Showtimes) == 0 && (result.Cinema == nil || !result.Cinema.IsTemporarilyClosed) {
		out = append(out, Warning{Code: CodeNoShowtimes, Title: "no showtimes found"})
	}
	seen := make(map[string]struct{}, len(result.Showtimes))
	for _, s := range result.Showtimes {
		if s.StartAt == "" {
			out = append(out, Warning{Code: CodeMissingStartAt, Title: "showtime without start_at", Details: s.MovieTitle})
			continue
		}
		if s.MovieTitle == "" {
			out = append(out, Warning{Code: CodeMissingMovieTitle, Title: "showtime without movie title", Details: s.StartAt})
		}
		key := s.MovieTitle + "|" + s.StartAt + "|" + s.Auditorium + "|" + s.Language
		if _, dup := seen[key]; dup {
			out = append(out, Warning{Code: CodeDuplicateShowtime, Title: "duplicate showtime", Details: key})
			continue
		}
		seen[key] = struct{}{}
	}
	return out
}

// Grouped partitions warnings by whether the crawler definition accepts them.
type Grouped struct {
	Print    []Warning
	Accepted []Accepted
}

// Accepted pairs a warning with the reason it is tolerated.
type Accepted struct {
	Warning
	Reason string
}

// Group keeps the first warning per code, ordered by code, and splits them into
// accepted and printable sets.
func Group(ws []Warning, accepted map[int]string) Grouped {
	byCode := make(map[int]Warning, len(ws))
	for _, w := range ws {
		if _, ok := byCode[w.Code]; !ok {
			byCode[w.Code] = w
		}
	}
	codes := make([]int, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	var g Grouped
	for _, code := range codes {
		w := byCode[code]
		if reason, ok := accepted[code]; ok {
			g.Accepted = append(g.Accepted, Accepted{Warning: w, Reason: reason})
			continue
		}
		g.Print = append(g.Print, w)
	}
	return g
}
