package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// JSONFormatter renders one JSON object per entry.
type JSONFormatter struct {
	// TimestampFormat defaults to time.RFC3339Nano.
	TimestampFormat string
	// DisableCaller drops the caller attribute.
	DisableCaller bool
}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	out := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		out[k] = jsonValue(v)
	}
	ts := f.TimestampFormat
	if ts == "" {
		ts = time.RFC3339Nano
	}
	out["ts"] = entry.Timestamp.Format(ts)
	out["level"] = entry.Level.String()
	out["msg"] = entry.Message
	if entry.Caller != "" && !f.DisableCaller {
		out["caller"] = entry.Caller
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("log: marshal entry: %w", err)
	}
	return append(b, '\n'), nil
}

func jsonValue(v interface{}) interface{} {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// TextFormatter renders "ts LEVEL msg key=value ..." lines with sorted keys.
type TextFormatter struct {
	TimestampFormat string
	ShowCaller      bool
}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	ts := f.TimestampFormat
	if ts == "" {
		ts = "2006-01-02T15:04:05.000Z07:00"
	}
	buf.WriteString(entry.Timestamp.Format(ts))
	buf.WriteByte(' ')
	buf.WriteString(fmt.Sprintf("%-5s", entry.Level.String()))
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteByte(' ')
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(textValue(entry.Fields[k]))
	}
	if f.ShowCaller && entry.Caller != "" {
		buf.WriteString(" caller=")
		buf.WriteString(entry.Caller)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func textValue(v interface{}) string {
	var s string
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		s = t
	case error:
		s = t.Error()
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(v)
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '"' || s[i] == '=' {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}
