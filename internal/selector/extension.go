package selector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Extractor pulls a value out of a message, usually from its payload.
type Extractor interface {
	Extract(r Resolver) any
}

// Extension builds extractors for PARSER('name', args...).
type Extension interface {
	Name() string
	New(args []string) (Extractor, error)
}

// Registry holds the parser extensions a Compiler can reference.
type Registry struct {
	mu   sync.RWMutex
	exts map[string]Extension
}

// NewRegistry returns a registry holding exts.
func NewRegistry(exts ...Extension) *Registry {
	r := &Registry{exts: make(map[string]Extension)}
	for _, e := range exts {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an extension. Names are case-insensitive.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	r.exts[strings.ToLower(e.Name())] = e
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (Extension, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exts[strings.ToLower(name)]
	return e, ok
}

// JSONExtension resolves dotted paths inside a JSON payload. Numeric path
// segments index arrays. Only strings and numbers are returned.
type JSONExtension struct{}

func (JSONExtension) Name() string { return "json" }

func (JSONExtension) New(args []string) (Extractor, error) {
	if len(args) != 1 || args[0] == "" {
		return nil, fmt.Errorf("json parser takes one path argument, got %d", len(args))
	}
	return jsonPath(strings.Split(args[0], ".")), nil
}

type jsonPath []string

func (p jsonPath) Extract(r Resolver) any {
	payload := r.Payload()
	if len(payload) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	cur := doc
	for _, seg := range p {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			cur = t[i]
		default:
			return nil
		}
	}
	switch t := cur.(type) {
	case string:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return nil
}
