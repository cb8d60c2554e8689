// Package iterate maps crawl functions over lists with bounded concurrency.
//
// Every item runs against its own clone of the parent crawl context, results
// are returned in input order and the first failure cancels the remaining work.
package iterate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
)

// StepCounter receives progress for mapped items. *progress.Tracker satisfies it.
type StepCounter interface {
	IncreaseTotalStepsBy(name string, delta int)
	IncreaseCompletedSteps(name string)
}

// Func processes one item on its own context clone.
type Func[T, R any] func(ctx context.Context, item T, cc *crawlctx.Context) (R, error)

// Mapper carries the run-wide mapping options.
type Mapper struct {
	// Concurrency bounds Map. Values below 1 mean 1.
	Concurrency int
	// Limit truncates every mapped list when positive.
	Limit int
	// Steps is notified about mapped items; it may be nil.
	Steps StepCounter
}

// LimitList returns at most m.Limit leading items.
func LimitList[T any](m *Mapper, items []T) []T {
	if m == nil || m.Limit <= 0 || len(items) <= m.Limit {
		return items
	}
	return items[:m.Limit]
}

// MapLimit applies fn to every item with at most limit invocations in flight.
// Progress for the parent's current task grows by the number of items and
// advances as each item finishes.
func MapLimit[T, R any](ctx context.Context, m *Mapper, items []T, limit int, parent *crawlctx.Context, fn Func[T, R]) ([]R, error) {
	items = LimitList(m, items)
	if limit < 1 {
		limit = 1
	}
	var steps StepCounter
	if m != nil {
		steps = m.Steps
	}
	task := parent.CurrentTask
	if steps != nil {
		steps.IncreaseTotalStepsBy(task, len(items))
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		cc := parent.Clone()
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if steps != nil {
				defer steps.IncreaseCompletedSteps(task)
			}
			r, err := fn(gctx, item, cc)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Map runs with the mapper's configured concurrency.
func Map[T, R any](ctx context.Context, m *Mapper, items []T, parent *crawlctx.Context, fn Func[T, R]) ([]R, error) {
	limit := 1
	if m != nil {
		limit = m.Concurrency
	}
	return MapLimit(ctx, m, items, limit, parent, fn)
}

// MapSeries processes items one at a time in order.
func MapSeries[T, R any](ctx context.Context, m *Mapper, items []T, parent *crawlctx.Context, fn Func[T, R]) ([]R, error) {
	return MapLimit(ctx, m, items, 1, parent, fn)
}

// Flatten concatenates nested slices and drops nil entries and repeated pointers.
func Flatten[T any](groups [][]*T) []*T {
	seen := make(map[*T]struct{})
	var out []*T
	for _, group := range groups {
		for _, item := range group {
			if item == nil {
				continue
			}
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
