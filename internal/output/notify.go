package output

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// Publisher sends a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification announces a saved document.
type Notification struct {
	RunID     string    `json:"run_id"`
	CrawlerID string    `json:"crawler_id"`
	Cinema    string    `json:"cinema"`
	Location  string    `json:"location"`
	Showtimes int       `json:"showtimes"`
	SavedAt   time.Time `json:"saved_at"`
}

// Notifying publishes a Notification after each successful save. Publish
// failures are logged and do not fail the save.
type Notifying struct {
	next   Writer
	pub    Publisher
	topic  string
	runID  string
	logger *zap.Logger
	now    func() time.Time
}

// NewNotifying decorates next.
func NewNotifying(next Writer, pub Publisher, topic, runID string, logger *zap.Logger) *Notifying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifying{
		next:   next,
		pub:    pub,
		topic:  topic,
		runID:  runID,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save implements Writer.
func (n *Notifying) Save(ctx context.Context, result *model.Result, cc *crawlctx.Context) (string, error) {
	location, err := n.next.Save(ctx, result, cc)
	if err != nil {
		return "", err
	}
	note := Notification{
		RunID:     n.runID,
		CrawlerID: result.CrawlerID(),
		Cinema:    result.Cinema.Key(),
		Location:  location,
		Showtimes: len(result.Showtimes),
		SavedAt:   n.now(),
	}
	id, err := n.pub.Publish(ctx, n.topic, note)
	if err != nil {
		n.logger.Warn("publish notification failed",
			zap.String("location", location),
			zap.Error(err),
		)
		return location, nil
	}
	n.logger.Debug("notification published", zap.String("message_id", id), zap.String("location", location))
	return location, nil
}
