package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/progress"
)

// LogSink writes progress events as structured logs. Fetch completions are
// logged at debug level, run milestones and breaker transitions at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("endpoint", evt.Endpoint),
				zap.String("status_class", evt.StatusClass),
				zap.Int("attempt", evt.Attempt),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.Int64("events", evt.Count), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
