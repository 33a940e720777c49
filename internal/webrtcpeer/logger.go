package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LoggerFactory routes pion's internal logging through slog. Each pion scope
// ("ice", "dtls", "pc", ...) becomes a "scope" attribute.
type LoggerFactory struct {
	Logger *slog.Logger
}

func NewLoggerFactory(logger *slog.Logger) LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return LoggerFactory{Logger: logger.With("component", "pion")}
}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return pionLogger{logger: l.With("scope", scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

// slog has no trace level; pion's trace output sits just below debug.
const levelTrace = slog.LevelDebug - 4

func (l pionLogger) log(level slog.Level, msg string) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, msg)
}

func (l pionLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l pionLogger) Trace(msg string) { l.log(levelTrace, msg) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.logf(levelTrace, format, args...)
}
func (l pionLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l pionLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l pionLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l pionLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.logf(slog.LevelError, format, args...)
}
