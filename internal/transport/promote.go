package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
)

// Detector decides whether a plain HTTP response needs a browser render.
type Detector interface {
	ShouldPromote(resp *Response) bool
}

// Promoting probes with a plain transport and re-fetches through a renderer
// when the detector flags the page. A nil detector renders every GET.
// Requests with post data always use the probe.
type Promoting struct {
	chain
	renderer Transport
	detector Detector
	logger   *zap.Logger
}

// NewPromoting combines probe and renderer.
func NewPromoting(probe, renderer Transport, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{chain: chain{next: probe}, renderer: renderer, detector: detector, logger: logger}
}

// Send implements Transport.
func (p *Promoting) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	if req.PostData != nil {
		return p.next.Send(ctx, req, cc)
	}
	if p.detector == nil {
		return p.renderer.Send(ctx, req, cc)
	}
	resp, err := p.next.Send(ctx, req, cc)
	if err != nil {
		return nil, err
	}
	if !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := p.renderer.Send(ctx, req, cc)
	if err != nil {
		p.logger.Warn("headless render failed, using plain response", zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
