package selector

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewSelectorCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestCheckPrintsCanonicalForm(t *testing.T) {
	out := mustRun(t, "check", "color   =   'red'")
	if !strings.Contains(out, "canonical: (color = 'red')") || !strings.Contains(out, "hash: ") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "match:") {
		t.Fatalf("no message given, yet evaluated: %q", out)
	}
}

func TestCheckEvaluates(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"check", "qty > 10 AND urgent = TRUE", "--prop", "qty=12", "--prop", "urgent=true"}, "match: true"},
		{[]string{"check", "PARSER('json', 'a.b') = 7", "--payload", `{"a":{"b":7}}`}, "match: true"},
		{[]string{"check", "qty > 10", "--prop", "qty=3"}, "match: false"},
		{[]string{"check", "--lang", "cel", `props.color == "red"`, "--prop", "color=red"}, "match: true"},
	}
	for _, tt := range tests {
		if out := mustRun(t, tt.args...); !strings.Contains(out, tt.want) {
			t.Fatalf("%v: want %q in %q", tt.args, tt.want, out)
		}
	}
}

func TestCheckErrors(t *testing.T) {
	for _, args := range [][]string{
		{"check", "a = = 1"},
		{"check", "a = 1", "--prop", "novalue"},
		{"check", "a = 1", "--lang", "xpath"},
	} {
		if _, err := run(t, args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestCheckEmptyFilter(t *testing.T) {
	if out := mustRun(t, "check", "  "); !strings.Contains(out, "matches every message") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTyped(t *testing.T) {
	for in, want := range map[string]any{"3": int64(3), "2.5": 2.5, "true": true, "red": "red"} {
		if got := typed(in); got != want {
			t.Fatalf("typed(%q) = %#v, want %#v", in, got, want)
		}
	}
}
