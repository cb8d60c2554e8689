package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// Recorder replays responses recorded by a previous run and records every
// response it has not seen before. Recordings live in
// <dir>/<crawlerID>.replay.json and are written when the crawl finishes.
type Recorder struct {
	chain
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[string]recording
	modified bool
}

type recording struct {
	Request  Request   `json:"request"`
	Response *Response `json:"response"`
}

// NewRecorder wraps next with a recording for crawlerID under dir.
func NewRecorder(next Transport, dir, crawlerID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		chain:   chain{next: next},
		path:    filepath.Join(dir, crawlerID+".replay.json"),
		logger:  logger,
		entries: make(map[string]recording),
	}
}

// Path returns the recording file location.
func (r *Recorder) Path() string {
	return r.path
}

// WillStartCrawling loads an existing recording.
func (r *Recorder) WillStartCrawling(ctx context.Context) error {
	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Info("recording responses", zap.String("path", r.path))
	case err != nil:
		return fmt.Errorf("read recording: %w", err)
	default:
		var list []recording
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode recording %s: %w", r.path, err)
		}
		r.mu.Lock()
		for _, rec := range list {
			r.entries[rec.Request.Key()] = rec
		}
		r.mu.Unlock()
		r.logger.Info("replaying recorded responses", zap.String("path", r.path), zap.Int("responses", len(list)))
	}
	return r.chain.WillStartCrawling(ctx)
}

// DidFinishCrawling writes the recording when new responses were captured.
func (r *Recorder) DidFinishCrawling(ctx context.Context) error {
	if err := r.save(); err != nil {
		return err
	}
	return r.chain.DidFinishCrawling(ctx)
}

// Send implements Transport.
func (r *Recorder) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	key := req.Key()
	r.mu.Lock()
	rec, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		metrics.ObserveRequest(req.URL, "replay", "ok", len(rec.Response.Body))
		out := *rec.Response
		out.FromCache = true
		return &out, nil
	}
	resp, err := r.next.Send(ctx, req, cc)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[key] = recording{Request: Request{URL: req.URL, PostData: req.PostData}, Response: resp}
	r.modified = true
	r.mu.Unlock()
	return resp, nil
}

func (r *Recorder) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.modified {
		return nil
	}
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]recording, 0, len(keys))
	for _, k := range keys {
		list = append(list, r.entries[k])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.modified = false
	r.logger.Info("saved recorded responses", zap.String("path", r.path), zap.Int("responses", len(list)))
	return nil
}
