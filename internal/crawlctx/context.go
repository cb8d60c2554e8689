// Package crawlctx carries per-branch crawl state through the pipeline.
//
// A Context is cloned whenever the crawl fans out so that sibling branches
// never observe each other's cinema, movie, date or page selections.
package crawlctx

import (
	"sync"
	"time"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

// Resource names the kind of page a request targets.
type Resource string

// Resource kinds.
const (
	ResourceCinemaList    Resource = "cinemas"
	ResourceCinemaDetails Resource = "cinemaDetails"
	ResourceMovieList     Resource = "movies"
	ResourceDateList      Resource = "dates"
	ResourceShowtimes     Resource = "showtimes"
	ResourceClosedCheck   Resource = "isTemporarilyClosed"
)

// PageIndexKey is the Indexes key tracking pagination.
const PageIndexKey = "page"

// Context is the per-branch crawl state.
type Context struct {
	parent *Context

	Cinema   *model.Cinema
	Movie    *model.Movie
	Version  string
	Date     time.Time
	HasDate  bool
	DateHref string
	Page     string
	Indexes  map[string]int

	Resource            Resource
	CurrentTask         string
	DateFormat          string
	RequestURL          string
	IsTemporarilyClosed bool

	callstack []string
	warnings  *warnings.Log
}

// New returns a root context.
func New() *Context {
	return &Context{
		Indexes:  map[string]int{},
		warnings: warnings.NewLog(),
	}
}

// Clone returns a child context. Field values are copied, Indexes and the
// call stack are deep copied and the warnings scope is shared.
func (c *Context) Clone() *Context {
	child := *c
	child.parent = c
	child.Indexes = make(map[string]int, len(c.Indexes))
	for k, v := range c.Indexes {
		child.Indexes[k] = v
	}
	child.callstack = append([]string(nil), c.callstack...)
	return &child
}

// Parent returns the context this one was cloned from, or nil for a root.
func (c *Context) Parent() *Context {
	return c.parent
}

// SetDate selects a date for the branch.
func (c *Context) SetDate(d time.Time) {
	c.Date = d
	c.HasDate = true
}

// PageIndex returns the current pagination index.
func (c *Context) PageIndex() int {
	return c.Indexes[PageIndexKey]
}

// SetPageIndex overrides the pagination index.
func (c *Context) SetPageIndex(i int) {
	if c.Indexes == nil {
		c.Indexes = map[string]int{}
	}
	c.Indexes[PageIndexKey] = i
}

// EnsurePageIndex initializes the pagination index if it is unset.
func (c *Context) EnsurePageIndex() {
	if _, ok := c.Indexes[PageIndexKey]; !ok {
		c.SetPageIndex(0)
	}
}

// IncrementPageIndex advances the pagination index by one.
func (c *Context) IncrementPageIndex() {
	c.SetPageIndex(c.PageIndex() + 1)
}

// PushCallstack records entry into a named operation.
func (c *Context) PushCallstack(frame string) {
	c.callstack = append(c.callstack, frame)
}

// PopCallstack removes the most recent frame. Popping an empty stack is a no-op.
func (c *Context) PopCallstack() {
	if n := len(c.callstack); n > 0 {
		c.callstack = c.callstack[:n-1]
	}
}

// CallstackDepth returns the number of frames.
func (c *Context) CallstackDepth() int {
	return len(c.callstack)
}

// Callstack returns a copy of the frames, oldest first.
func (c *Context) Callstack() []string {
	return append([]string(nil), c.callstack...)
}

// TrackCallstack pushes frame and returns a function that pops it exactly once,
// however many times it is invoked:
//
//	defer cc.TrackCallstack("crawlList")()
func (c *Context) TrackCallstack(frame string) func() {
	c.PushCallstack(frame)
	var once sync.Once
	return func() {
		once.Do(c.PopCallstack)
	}
}

// ScopeWarnings starts a fresh warnings scope shared by this context and all
// contexts later cloned from it.
func (c *Context) ScopeWarnings() {
	c.warnings = warnings.NewLog()
}

// AddWarning records a warning in the current scope.
func (c *Context) AddWarning(w warnings.Warning) {
	if c.warnings == nil {
		c.warnings = warnings.NewLog()
	}
	c.warnings.Add(w)
}

// Warnings returns the warnings recorded in the current scope.
func (c *Context) Warnings() []warnings.Warning {
	if c.warnings == nil {
		return nil
	}
	return c.warnings.Items()
}
