package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// impl fans entries out to appenders. Subloggers share the appender list of their parent.
type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appendersMu *sync.RWMutex
	appenders   *[]Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	apps := append([]Appender{}, appenders...)
	return &impl{
		name:        name,
		level:       NewAtomicLevelAt(level),
		inUTC:       inUTC,
		appendersMu: &sync.RWMutex{},
		appenders:   &apps,
	}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appendersMu.Lock()
	defer imp.appendersMu.Unlock()
	*imp.appenders = append(*imp.appenders, appender)
}

func (imp *impl) currentAppenders() []Appender {
	imp.appendersMu.RLock()
	defer imp.appendersMu.RUnlock()
	return *imp.appenders
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) Level() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:        name,
		level:       NewAtomicLevelAt(imp.level.Get()),
		inUTC:       imp.inUTC,
		appendersMu: imp.appendersMu,
		appenders:   imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.currentAppenders() {
		err = multierr.Combine(err, appender.Sync())
	}
	return err
}

// emit writes one entry to every appender. It must be called directly by the exported logging
// method so the caller lookup lands on user code.
func (imp *impl) emit(level Level, force bool, msg string, fields []zapcore.Field) {
	if !force && level < imp.level.Get() {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     callerOfLogMethod(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.currentAppenders() {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// keyValueFields pairs up keysAndValues into zap fields. Values are json serialized, so only
// exported struct fields show up.
func keyValueFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.level.Get()
}

func (imp *impl) Debug(args ...interface{}) {
	imp.emit(DEBUG, false, fmt.Sprint(args...), nil)
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emit(DEBUG, false, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, false, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) CDebug(ctx context.Context, args ...interface{}) {
	imp.emit(DEBUG, IsDebugMode(ctx), fmt.Sprint(args...), nil)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if force := IsDebugMode(ctx); force || imp.enabled(DEBUG) {
		imp.emit(DEBUG, force, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Info(args ...interface{}) {
	imp.emit(INFO, false, fmt.Sprint(args...), nil)
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emit(INFO, false, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, false, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	imp.emit(WARN, false, fmt.Sprint(args...), nil)
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emit(WARN, false, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, false, msg, keyValueFields(keysAndValues))
	}
}

func (imp *impl) Error(args ...interface{}) {
	imp.emit(ERROR, false, fmt.Sprint(args...), nil)
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emit(ERROR, false, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, false, msg, keyValueFields(keysAndValues))
	}
}

// callerOfLogMethod reports the code that called a Logger method, e.g. "logging/impl_test.go:36".
func callerOfLogMethod() zapcore.EntryCaller {
	// runtime.Caller <- callerOfLogMethod <- emit <- Info/Debug/... <- user code.
	const skip = 3
	var caller zapcore.EntryCaller
	var ok bool
	caller.PC, caller.File, caller.Line, ok = runtime.Caller(skip)
	if !ok {
		return caller
	}
	caller.Defined = true
	if fn := runtime.FuncForPC(caller.PC); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
