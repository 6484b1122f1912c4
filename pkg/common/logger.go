package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// DefaultLogger 默认日志实现
type DefaultLogger struct {
	prefix string
	logger *slog.Logger
}

// NewLogger 创建日志器
func NewLogger(prefix string) Logger {
	return NewLoggerWithHandler(prefix, slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: currentLevel}))
}

// NewLoggerWithHandler creates a logger writing through h.
func NewLoggerWithHandler(prefix string, h slog.Handler) Logger {
	return &DefaultLogger{
		prefix: prefix,
		logger: slog.New(h).With("component", prefix),
	}
}

var currentLevel = new(slog.LevelVar)

// SetLevel sets the minimum level for loggers created by NewLogger.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		currentLevel.Set(slog.LevelWarn)
	case "error":
		currentLevel.Set(slog.LevelError)
	default:
		currentLevel.Set(slog.LevelInfo)
	}
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	l.log(slog.LevelDebug, msg, args...)
}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log(slog.LevelInfo, msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log(slog.LevelWarn, msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log(slog.LevelError, msg, args...)
}

func (l *DefaultLogger) log(level slog.Level, msg string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	l.logger.Log(ctx, level, fmt.Sprintf("[%s] %s", l.prefix, formatted))
}

// NopLogger discards everything.
func NopLogger() Logger {
	return NewLoggerWithHandler("nop", slog.NewTextHandler(io.Discard, nil))
}
