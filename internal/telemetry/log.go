package telemetry

import (
	"context"
	"log/slog"
)

// LogSink 把事件写入结构化日志。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 创建 LogSink。
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit 记录事件。
func (s *LogSink) Emit(ctx context.Context, event Event) {
	s.logger.InfoContext(ctx, "telemetry event",
		"id", event.ID,
		"category", event.Category,
		"action", event.Action,
		"label", event.LabelValue(),
		"state", event.State)
}
