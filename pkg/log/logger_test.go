package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level Level, f Formatter) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	return NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(buf))), buf
}

func TestLevelGate(t *testing.T) {
	l, buf := newBufferLogger(t, WarnLevel, &TextFormatter{})
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestJSONFieldsAndChildren(t *testing.T) {
	l, buf := newBufferLogger(t, DebugLevel, &JSONFormatter{})
	child := l.With(Component("destination"), Str("destination", "orders"))
	child.Info("registered", Uint64("id", 42), Err(errors.New("boom")))

	var got map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if got["component"] != "destination" || got["destination"] != "orders" {
		t.Fatalf("missing inherited fields: %v", got)
	}
	if got["error"] != "boom" {
		t.Fatalf("error field: %v", got["error"])
	}
	if got["level"] != "INFO" || got["msg"] != "registered" {
		t.Fatalf("level/msg: %v", got)
	}
}

func TestSetLevelSharedWithChildren(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{})
	child := l.WithComponent("x")
	l.SetLevel(ErrorLevel)
	child.Warn("quiet")
	if buf.Len() != 0 {
		t.Fatalf("child should observe parent level change: %q", buf.String())
	}
	if child.GetLevel() != ErrorLevel {
		t.Fatalf("level = %v", child.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel, "": InfoLevel} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestApplyConfigRedacts(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "debug", Format: "json", Outputs: []string{"null"}, Redact: []string{"secret"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	l.Info("ok", Str("secret", "x"))
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestBridgeGroupsAndRedaction(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &pipeline{level: DebugLevel, formatter: &JSONFormatter{}, outputs: []Output{NewWriterOutput(buf)}}
	h := newBridgeHandler(p).withRedactions([]string{"req.token", "password"})
	l := slog.New(h).With("password", "p").WithGroup("req")
	l.Info("call", "token", "t", "id", 7)

	var got map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if got["password"] != redacted || got["req.token"] != redacted {
		t.Fatalf("redaction: %v", got)
	}
	if got["req.id"] != float64(7) {
		t.Fatalf("group prefix: %v", got)
	}
}

func TestSamplerKeepsInitialThenEveryNth(t *testing.T) {
	s := newSampler(2, 3)
	var kept int
	for i := 0; i < 8; i++ {
		if s.allow(slog.LevelInfo, "tick") {
			kept++
		}
	}
	// calls 1 and 2, then every third: calls 3 and 6
	if kept != 4 {
		t.Fatalf("kept = %d, want 4", kept)
	}
	if !s.allow(slog.LevelWarn, "tick") {
		t.Fatalf("levels are sampled separately")
	}
}

func TestPairAttrs(t *testing.T) {
	attrs := pairAttrs([]interface{}{"a", 1, 2, "b", "dangling"})
	if len(attrs) != 3 || attrs[0].Key != "a" || attrs[1].Key != "arg2" || attrs[2].Key != "arg4" {
		t.Fatalf("attrs = %v", attrs)
	}
}
