package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/hash/sha256"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// Store persists responses by key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response) error
}

// Cached answers repeated requests from a Store. Store failures are logged and
// fall through to the network.
type Cached struct {
	chain
	store  Store
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewCached wraps next with store.
func NewCached(next Transport, store Store, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{chain: chain{next: next}, store: store, hasher: sha256.New(), logger: logger}
}

// Send implements Transport.
func (c *Cached) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	key := c.hasher.HashString(req.Key())
	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("response cache read failed", zap.String("url", req.URL), zap.Error(err))
	}
	if ok {
		c.logger.Debug("using cached response", zap.String("url", req.URL), zap.String("resource", resourceOf(cc)))
		metrics.ObserveRequest(req.URL, "cache", "ok", len(cached.Body))
		out := *cached
		out.FromCache = true
		return &out, nil
	}
	resp, err := c.next.Send(ctx, req, cc)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, resp); err != nil {
		c.logger.Warn("response cache write failed", zap.String("url", req.URL), zap.Error(err))
	}
	return resp, nil
}

// MemoryStore keeps responses for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Response)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (*Response, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.entries[key]
	return resp, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, resp *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = resp
	return nil
}

// Len returns the number of stored responses.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
