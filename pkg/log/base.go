package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fieldAttrs(fields)) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fieldAttrs(fields)) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fieldAttrs(fields)) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fieldAttrs(fields)) }

func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fieldAttrs(fields))
	l.exit()
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.log(DebugLevel, msg, pairAttrs(args)) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.log(InfoLevel, msg, pairAttrs(args)) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.log(WarnLevel, msg, pairAttrs(args)) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.log(ErrorLevel, msg, pairAttrs(args)) }

func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.log(FatalLevel, msg, pairAttrs(args))
	l.exit()
}

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.derive(Fields{key: value})
}

func (l *BaseLogger) WithFields(fields Fields) Logger { return l.derive(fields) }
func (l *BaseLogger) WithError(err error) Logger      { return l.derive(Fields{errorKey: err}) }

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	m := make(Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return l.derive(m)
}

// WithContext carries the values ContextExtractor finds in ctx.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.derive(fields)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.derive(Fields{string(ComponentKey): component})
}

func (l *BaseLogger) SetLevel(level Level) {
	l.p.mu.Lock()
	l.p.level = level
	l.p.mu.Unlock()
}

func (l *BaseLogger) GetLevel() Level {
	l.p.mu.RLock()
	defer l.p.mu.RUnlock()
	return l.p.level
}

// derive returns a child sharing the pipeline with fields added.
func (l *BaseLogger) derive(fields Fields) *BaseLogger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &BaseLogger{
		p:          l.p,
		fields:     merged,
		slogLogger: l.slogLogger.With(attrsToAny(mapAttrs(fields))...),
	}
}

func (l *BaseLogger) log(level Level, msg string, attrs []slog.Attr) {
	if !l.p.enabled(level) {
		return
	}
	var pcs [1]uintptr
	// skip runtime.Callers, log and the exported method
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), toSlogLevel(level), msg, pcs[0])
	r.AddAttrs(attrs...)
	if err := l.slogLogger.Handler().Handle(context.Background(), r); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
	}
}

func (l *BaseLogger) exit() {
	l.p.mu.Lock()
	for _, out := range l.p.outputs {
		_ = out.Close()
	}
	l.p.mu.Unlock()
	os.Exit(1)
}
