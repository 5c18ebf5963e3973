package selector

import (
	"errors"
	"fmt"
)

// ErrPatternTooLarge is returned when a LIKE pattern exceeds MaxPatternBytes.
var ErrPatternTooLarge = errors.New("selector: wildcard pattern exceeds size limit")

// ErrUnknownExtension is returned for PARSER('name', ...) with an unregistered name.
var ErrUnknownExtension = errors.New("selector: unknown parser extension")

// ParseError reports malformed filter text.
type ParseError struct {
	Text string
	Pos  int
	Msg  string
	Err  error
}

func newParseError(text string, pos int, format string, args ...any) *ParseError {
	return &ParseError{Text: text, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("selector: %s at position %d in %q", e.Msg, e.Pos, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }
