package transport

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/retry"
)

// Retrying repeats failed sends. Client errors other than 408 and 429 are
// not retried.
type Retrying struct {
	chain
	retrier retry.Retrier
}

// NewRetrying wraps next with policy.
func NewRetrying(next Transport, policy retry.Policy, logger *zap.Logger) *Retrying {
	return &Retrying{
		chain:   chain{next: next},
		retrier: retry.Retrier{Policy: policy, Logger: logger, Scope: "transport"},
	}
}

// Send implements Transport.
func (r *Retrying) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	var resp *Response
	err := r.retrier.Do(ctx, req.Method()+" "+req.URL, func(ctx context.Context) error {
		var err error
		resp, err = r.next.Send(ctx, req, cc)
		if err != nil && !retryableStatus(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func retryableStatus(err error) bool {
	if errors.Is(err, ErrUnsupportedMethod) {
		return false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
		return true
	case se.Code >= http.StatusInternalServerError:
		return true
	}
	return false
}
