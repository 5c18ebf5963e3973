package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ConsoleOutput writes entries to stderr, or to Writer when set.
type ConsoleOutput struct {
	Writer io.Writer
}

// NewConsoleOutput returns a stderr output.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{Writer: os.Stderr} }

// NewWriterOutput returns an output writing to w. Tests use it with a bytes.Buffer.
func NewWriterOutput(w io.Writer) *ConsoleOutput { return &ConsoleOutput{Writer: w} }

func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	_, err := w.Write(formatted)
	return err
}

func (o *ConsoleOutput) Close() error { return nil }

// FileOutput appends entries to a file.
type FileOutput struct {
	f *os.File
}

// NewFileOutput opens (creating parents as needed) path for appending.
func NewFileOutput(path string) (*FileOutput, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log: open %s: %w", path, err)
	}
	return &FileOutput{f: f}, nil
}

func (o *FileOutput) Write(_ *Entry, formatted []byte) error {
	_, err := o.f.Write(formatted)
	return err
}

func (o *FileOutput) Close() error { return o.f.Close() }

// NullOutput discards everything.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }

// NewNopLogger returns a logger that discards all entries.
func NewNopLogger() Logger {
	return NewLogger(WithLevel(FatalLevel), WithOutput(NullOutput{}))
}
