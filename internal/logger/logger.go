package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init 初始化全局日志记录器，使用 JSON 格式输出到 stdout。
func Init(level string) *slog.Logger {
	return InitWithWriter(os.Stdout, level)
}

// InitWithWriter 与 Init 相同，但输出到指定 writer。
func InitWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel 解析日志级别，无法识别时使用 info。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
