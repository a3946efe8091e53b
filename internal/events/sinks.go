package events

import (
	"go.uber.org/zap"
)

// LogSink forwards events to a zap logger at the event's level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements Sink.
func (s *LogSink) Consume(evt Event) {
	fields := []zap.Field{
		zap.String("stage", string(evt.Stage)),
		zap.String("forum_id", evt.ForumID),
		zap.Time("event_ts", evt.TS),
	}
	if evt.RunID != [16]byte{} {
		fields = append(fields, zap.String("run_id", evt.RunID.String()))
	}
	switch evt.Level {
	case LevelError:
		s.logger.Error(evt.Message, fields...)
	case LevelWarn:
		s.logger.Warn(evt.Message, fields...)
	default:
		s.logger.Info(evt.Message, fields...)
	}
}

// ProgressFunc adapts a progress callback into a Sink; events without a
// progress fraction are ignored.
type ProgressFunc func(percent float64, message string)

// Consume implements Sink.
func (f ProgressFunc) Consume(evt Event) {
	if f == nil || !evt.HasProgress() {
		return
	}
	f(evt.Percent, evt.Message)
}
