package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

const redacted = "[REDACTED]"

// bridgeHandler is the slog.Handler behind every BaseLogger. It turns
// records into Entries and hands them to the pipeline.
type bridgeHandler struct {
	p       *pipeline
	attrs   []slog.Attr
	prefix  string
	redact  map[string]bool
	sampler *sampler
}

func newBridgeHandler(p *pipeline) *bridgeHandler { return &bridgeHandler{p: p} }

func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.p.enabled(fromSlogLevel(level))
}

func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	if h.sampler != nil && !h.sampler.allow(r.Level, r.Message) {
		return nil
	}
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		h.put(fields, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(fields, h.prefix+a.Key, a.Value)
		return true
	})
	entry := &Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    callerOf(r.PC),
	}
	if err, ok := fields[errorKey].(error); ok {
		entry.Error = err
	}
	return h.p.write(entry)
}

// put stores v under key. Keys are matched for redaction with their group
// prefix.
func (h *bridgeHandler) put(fields Fields, key string, v slog.Value) {
	if h.redact[key] {
		fields[key] = redacted
		return
	}
	fields[key] = v.Any()
}

func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

// WithGroup prefixes later attribute keys with "name.".
func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *bridgeHandler) withRedactions(keys []string) *bridgeHandler {
	if len(keys) == 0 {
		return h
	}
	nh := *h
	nh.redact = make(map[string]bool, len(keys))
	for _, k := range keys {
		nh.redact[k] = true
	}
	return &nh
}

func (h *bridgeHandler) withSampler(initial, thereafter int) *bridgeHandler {
	if thereafter <= 0 {
		return h
	}
	nh := *h
	nh.sampler = newSampler(initial, thereafter)
	return &nh
}

func callerOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

type sampleKey struct {
	level slog.Level
	msg   string
}

// sampler keeps the first initial entries of each level and message, then
// every thereafter-th.
type sampler struct {
	mu         sync.Mutex
	initial    uint64
	thereafter uint64
	seen       map[sampleKey]uint64
}

func newSampler(initial, thereafter int) *sampler {
	return &sampler{
		initial:    uint64(max(initial, 0)),
		thereafter: uint64(max(thereafter, 1)),
		seen:       make(map[sampleKey]uint64),
	}
}

func (s *sampler) allow(level slog.Level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sampleKey{level, msg}
	n := s.seen[k]
	s.seen[k] = n + 1
	return n < s.initial || (n-s.initial)%s.thereafter == 0
}

// levelFatal sits above slog's error level so FATAL survives the round trip.
const levelFatal = slog.LevelError + 4

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return levelFatal
	}
	return slog.LevelInfo
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level <= slog.LevelInfo:
		return InfoLevel
	case level <= slog.LevelWarn:
		return WarnLevel
	case level < levelFatal:
		return ErrorLevel
	}
	return FatalLevel
}

func mapAttrs(m Fields) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func fieldAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	return attrs
}

// pairAttrs reads alternating key/value args. A non-string key or a
// dangling value is kept under "argN".
func pairAttrs(args []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			attrs = append(attrs, slog.Any("arg"+strconv.Itoa(i), args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = "arg" + strconv.Itoa(i)
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i := range attrs {
		out[i] = attrs[i]
	}
	return out
}
