package crawler

import (
	"sync"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// Bucket is an ordered set of items deduplicated by pointer identity. The
// zero value is ready to use and safe for concurrent use.
type Bucket[T any] struct {
	mu    sync.Mutex
	items []*T
	seen  map[*T]struct{}
}

// Union appends the items not yet present, preserving first-seen order.
func (b *Bucket[T]) Union(items []*T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen == nil {
		b.seen = make(map[*T]struct{})
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, ok := b.seen[item]; ok {
			continue
		}
		b.seen[item] = struct{}{}
		b.items = append(b.items, item)
	}
}

// Items returns a copy of the collected items.
func (b *Bucket[T]) Items() []*T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*T(nil), b.items...)
}

// Len returns the number of collected items.
func (b *Bucket[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Results accumulates everything crawled during a run.
type Results struct {
	Cinemas   Bucket[model.Cinema]
	Movies    Bucket[model.Movie]
	DatePages Bucket[model.DatePage]
	Showtimes Bucket[model.Showtime]
}

// Counts summarizes the buckets for status reporting.
func (r *Results) Counts() map[string]int {
	return map[string]int{
		"cinemas":   r.Cinemas.Len(),
		"movies":    r.Movies.Len(),
		"datePages": r.DatePages.Len(),
		"showtimes": r.Showtimes.Len(),
	}
}

// union concatenates a and the items of b not already in a.
func union[T any](a, b []*T) []*T {
	seen := make(map[*T]struct{}, len(a)+len(b))
	out := make([]*T, 0, len(a)+len(b))
	for _, list := range [][]*T{a, b} {
		for _, item := range list {
			if item == nil {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
