package log

import (
	"fmt"
	"time"
)

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

const errorKey = "error"

// F creates a field with an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Any is an alias of F kept for call sites that read better with it.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str creates a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 creates a uint64 field. Message identifiers are logged with it.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 creates a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field rendered with time.Duration's String form.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates the conventional "error" field. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err}
}

// Component tags an entry with the emitting component.
func Component(name string) Field { return Field{Key: string(ComponentKey), Value: name} }

// Stringer renders a fmt.Stringer lazily at format time.
func Stringer(key string, value fmt.Stringer) Field { return Field{Key: key, Value: value} }
