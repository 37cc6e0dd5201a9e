package kafka

import (
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// clientLogger forwards franz-go client logs to zap.
type clientLogger struct {
	logger *zap.SugaredLogger
	level  kgo.LogLevel
}

func newClientLogger(logger *zap.Logger) *clientLogger {
	level := kgo.LogLevelWarn
	switch {
	case logger.Core().Enabled(zapcore.DebugLevel):
		level = kgo.LogLevelDebug
	case logger.Core().Enabled(zapcore.InfoLevel):
		level = kgo.LogLevelInfo
	}
	return &clientLogger{logger: logger.Sugar(), level: level}
}

func (l *clientLogger) Level() kgo.LogLevel { return l.level }

func (l *clientLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		l.logger.Errorw(msg, keyvals...)
	case kgo.LogLevelWarn:
		l.logger.Warnw(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.logger.Infow(msg, keyvals...)
	case kgo.LogLevelDebug:
		l.logger.Debugw(msg, keyvals...)
	}
}
