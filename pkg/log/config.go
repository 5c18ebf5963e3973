package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares a logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Outputs lists "console", "null" or "file:<path>". Empty means console.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// Redact replaces the listed field values with [REDACTED].
	Redact []string `json:"redact,omitempty" yaml:"redact,omitempty"`
	// SampleInitial/SampleThereafter keep the first N entries per message,
	// then every Mth. SampleThereafter <= 0 disables sampling.
	SampleInitial    int `json:"sampleInitial,omitempty" yaml:"sampleInitial,omitempty"`
	SampleThereafter int `json:"sampleThereafter,omitempty" yaml:"sampleThereafter,omitempty"`
}

// ParseLevel maps a case-insensitive name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	for _, target := range cfg.Outputs {
		switch {
		case target == "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case target == "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case strings.HasPrefix(target, "file:"):
			out, err := NewFileOutput(strings.TrimPrefix(target, "file:"))
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(out))
		default:
			return nil, fmt.Errorf("log: unknown output %q", target)
		}
	}
	logger := NewLogger(opts...).(*BaseLogger)
	h := newBridgeHandler(logger.p).withRedactions(cfg.Redact).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	logger.slogLogger = slog.New(h)
	return logger, nil
}
