package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs that output to the underlying writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// FileAppenderConfig configures a rotating log file.
type FileAppenderConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileAppender creates an appender that writes console formatted logs to a size rotated file.
// The returned closer must be called once no more logs will be written.
func NewFileAppender(cfg FileAppenderConfig) (ConsoleAppender, io.Closer) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	roller := &lumberjack.Logger{
		Filename:   filepath.Clean(cfg.Path),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return ConsoleAppender{roller}, roller
}

// formatEntry renders an entry as tab separated time, level, logger, caller and message, followed
// by the fields as a JSON object when there are any. The line is returned even when the fields fail
// to encode.
func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)
	if len(fields) == 0 {
		return strings.Join(parts, "\t"), nil
	}
	// zap's json encoder keeps the fields in order, unlike a map.
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(parts, "\t"), err
	}
	parts = append(parts, buf.String())
	return strings.Join(parts, "\t"), nil
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	if _, werr := fmt.Fprintln(appender.Writer, line); werr != nil {
		return werr
	}
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// callerToString returns "<package>/<file>:<line>". runtime.Caller paths use '/' on every
// platform.
func callerToString(caller *zapcore.EntryCaller) string {
	file := caller.File
	if dir := strings.LastIndexByte(file, '/'); dir >= 0 {
		if pkg := strings.LastIndexByte(file[:dir], '/'); pkg >= 0 {
			file = file[pkg+1:]
		}
	}
	return fmt.Sprintf("%s:%d", file, caller.Line)
}
