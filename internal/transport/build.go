package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/retry"
)

// Headless modes.
const (
	HeadlessOff    = "off"
	HeadlessAuto   = "auto"
	HeadlessAlways = "always"
)

// Config selects and configures the strategies composed by Build.
type Config struct {
	Collector CollectorConfig

	// HeadlessMode is one of "off", "auto" or "always".
	HeadlessMode string
	Headless     HeadlessConfig
	Detector     Detector

	// RatePerSecond throttles each host when positive.
	RatePerSecond float64
	RateBurst     int

	// Retry wraps raw sends when non-nil.
	Retry retry.Policy

	// Store enables the response cache when non-nil.
	Store Store

	// RecordDir enables record/replay when non-empty.
	RecordDir string
	CrawlerID string
}

// Stack is a composed transport plus the resources it owns.
type Stack struct {
	Transport
	closers []func() error
}

// Close releases browser and cache resources.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// WillStartCrawling forwards to the outermost strategy.
func (s *Stack) WillStartCrawling(ctx context.Context) error {
	if lc, ok := s.Transport.(Lifecycle); ok {
		return lc.WillStartCrawling(ctx)
	}
	return nil
}

// DidFinishCrawling forwards to the outermost strategy.
func (s *Stack) DidFinishCrawling(ctx context.Context) error {
	if lc, ok := s.Transport.(Lifecycle); ok {
		return lc.DidFinishCrawling(ctx)
	}
	return nil
}

// Build composes the configured strategies, innermost first:
// collector, headless promotion, rate limit, retries, response cache, recorder.
func Build(cfg Config, logger *zap.Logger) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stack := &Stack{}
	base, err := NewCollector(cfg.Collector, logger.Named("collector"))
	if err != nil {
		return nil, err
	}
	var t Transport = base

	switch cfg.HeadlessMode {
	case "", HeadlessOff:
	case HeadlessAuto, HeadlessAlways:
		h, err := NewHeadless(cfg.Headless, logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("build headless transport: %w", err)
		}
		stack.closers = append(stack.closers, func() error { h.Close(); return nil })
		detector := cfg.Detector
		if cfg.HeadlessMode == HeadlessAlways {
			detector = nil
		} else if detector == nil {
			return nil, errors.New("headless auto mode requires a detector")
		}
		t = NewPromoting(t, h, detector, logger.Named("promote"))
	default:
		return nil, fmt.Errorf("unknown headless mode %q", cfg.HeadlessMode)
	}

	if cfg.RatePerSecond > 0 {
		t = NewRateLimited(t, cfg.RatePerSecond, cfg.RateBurst)
	}
	if cfg.Retry != nil {
		t = NewRetrying(t, cfg.Retry, logger.Named("retry"))
	}
	if cfg.Store != nil {
		t = NewCached(t, cfg.Store, logger.Named("cache"))
		if c, ok := cfg.Store.(interface{ Close() error }); ok {
			stack.closers = append(stack.closers, c.Close)
		}
	}
	if cfg.RecordDir != "" {
		t = NewRecorder(t, cfg.RecordDir, cfg.CrawlerID, logger.Named("recorder"))
	}
	stack.Transport = t
	return stack, nil
}

// DefaultTimeout is used when CollectorConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second
