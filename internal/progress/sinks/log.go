package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/progress"
)

// LogSink writes task changes as debug logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("progress",
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("task", evt.Task),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
			zap.Stringer("aggregate", evt.Aggregate),
		)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
