package logging

import (
	"context"
)

// Logger is the logging interface used throughout the reconstruction pipeline. Components receive
// a Logger explicitly and derive named subloggers from it.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// CDebug and CDebugw also log when ctx was passed through EnableDebugMode.
	CDebug(ctx context.Context, args ...interface{})
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	Level() Level
	Sublogger(subname string) Logger
	AddAppender(appender Appender)
	Sync() error
}
