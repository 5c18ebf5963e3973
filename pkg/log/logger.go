package log

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of an entry. Entries below a logger's level are dropped.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Fields maps field names to values.
type Fields map[string]interface{}

type contextKey string

// Keys WithContext lifts out of a context.Context.
const (
	SessionIDKey    contextKey = "session_id"
	DestinationKey  contextKey = "destination"
	SubscriptionKey contextKey = "subscription"
	ComponentKey    contextKey = "component"
	OperationKey    contextKey = "operation"
)

var contextKeys = []contextKey{SessionIDKey, DestinationKey, SubscriptionKey, ComponentKey, OperationKey}

// Entry is one formatted log record.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
	Error     error
}

// Logger is the logging facade every component takes.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process.
	Fatal(msg string, fields ...Field)

	// The f variants take alternating key/value pairs, not a format string.
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger

	// SetLevel applies to the logger and every logger derived from it.
	SetLevel(level Level)
	GetLevel() Level
}

type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// LoggerOption configures NewLogger.
type LoggerOption func(*pipeline)

// pipeline is the level, formatter and outputs shared by a logger and
// its children.
type pipeline struct {
	mu        sync.RWMutex
	level     Level
	formatter Formatter
	outputs   []Output
}

func (p *pipeline) enabled(level Level) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return level >= p.level
}

func (p *pipeline) write(entry *Entry) error {
	formatted, err := p.formatter.Format(entry)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, out := range p.outputs {
		_ = out.Write(entry, formatted)
	}
	return nil
}

// BaseLogger implements Logger on top of a slog bridge.
type BaseLogger struct {
	p          *pipeline
	fields     Fields
	slogLogger *slog.Logger
}

// ContextExtractor returns the logging values carried by ctx.
func ContextExtractor(ctx context.Context) Fields {
	fields := Fields{}
	if ctx == nil {
		return fields
	}
	for _, key := range contextKeys {
		if v := ctx.Value(key); v != nil {
			fields[string(key)] = v
		}
	}
	return fields
}

// ContextWith returns a child context carrying value for key.
func ContextWith(ctx context.Context, key contextKey, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}

// NewLogger builds a logger. Defaults: info level, JSON, stderr.
func NewLogger(options ...LoggerOption) Logger {
	p := &pipeline{level: InfoLevel, formatter: &JSONFormatter{}}
	for _, option := range options {
		option(p)
	}
	if len(p.outputs) == 0 {
		p.outputs = []Output{NewConsoleOutput()}
	}
	logger := &BaseLogger{p: p, fields: Fields{}}
	logger.slogLogger = slog.New(newBridgeHandler(p))
	return logger
}

func WithLevel(level Level) LoggerOption {
	return func(p *pipeline) { p.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(p *pipeline) { p.formatter = formatter }
}

// WithOutput adds an output; it may be given more than once.
func WithOutput(output Output) LoggerOption {
	return func(p *pipeline) { p.outputs = append(p.outputs, output) }
}
