// Package schema keeps the schema attached to each destination and
// notifies schema subscriptions when it changes.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

var (
	ErrNotStarted = errors.New("schema: registry not started")
	ErrClosed     = errors.New("schema: registry closed")
)

var keyPrefix = []byte("schema/")

// Schema describes the payload format of a destination.
type Schema struct {
	ID          string    `cbor:"1,keyasint"`
	Destination string    `cbor:"2,keyasint"`
	Format      string    `cbor:"3,keyasint"`
	Definition  []byte    `cbor:"4,keyasint,omitempty"`
	Version     int       `cbor:"5,keyasint"`
	Updated     time.Time `cbor:"6,keyasint"`
}

// Listener is invoked after a schema changes. It must not block.
type Listener func(Schema)

// Registry is a process service with an explicit Start/Close lifecycle.
// A nil DB keeps schemas in memory only.
type Registry struct {
	db     *pebblestore.DB
	logger log.Logger

	mu        sync.RWMutex
	started   bool
	closed    bool
	schemas   map[string]Schema
	listeners map[string]map[uint64]Listener
	nextID    uint64
}

func NewRegistry(db *pebblestore.DB, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		db:        db,
		logger:    logger.With(log.Component("schema")),
		schemas:   make(map[string]Schema),
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Start loads persisted schemas.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}
	if r.db != nil {
		var decodeErr error
		err := r.db.Scan(keyPrefix, func(_, value []byte) bool {
			var s Schema
			if decodeErr = cbor.Unmarshal(value, &s); decodeErr != nil {
				return false
			}
			r.schemas[s.Destination] = s
			return ctx.Err() == nil
		})
		if err == nil {
			err = decodeErr
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("schema: load: %w", err)
		}
	}
	r.started = true
	r.logger.Info("schema registry started", log.Int("schemas", len(r.schemas)))
	return nil
}

// Close drops every listener. The registry cannot be restarted.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.started = false
	clear(r.listeners)
	return nil
}

func (r *Registry) ready() error {
	switch {
	case r.closed:
		return ErrClosed
	case !r.started:
		return ErrNotStarted
	}
	return nil
}

// Set replaces the schema of destination and notifies its listeners.
func (r *Registry) Set(destination, format string, definition []byte) (Schema, error) {
	r.mu.Lock()
	if err := r.ready(); err != nil {
		r.mu.Unlock()
		return Schema{}, err
	}
	s := Schema{
		ID:          uuid.NewString(),
		Destination: destination,
		Format:      format,
		Definition:  append([]byte(nil), definition...),
		Version:     r.schemas[destination].Version + 1,
		Updated:     time.Now().UTC(),
	}
	if r.db != nil {
		b, err := cbor.Marshal(s)
		if err == nil {
			err = r.db.Set(append(append([]byte(nil), keyPrefix...), destination...), b)
		}
		if err != nil {
			r.mu.Unlock()
			return Schema{}, fmt.Errorf("schema: persist %s: %w", destination, err)
		}
	}
	r.schemas[destination] = s
	ls := make([]Listener, 0, len(r.listeners[destination]))
	for _, l := range r.listeners[destination] {
		ls = append(ls, l)
	}
	r.mu.Unlock()

	for _, l := range ls {
		l(s)
	}
	return s, nil
}

// Get returns the current schema of destination.
func (r *Registry) Get(destination string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[destination]
	return s, ok
}

// Remove forgets the schema of destination.
func (r *Registry) Remove(destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}
	delete(r.schemas, destination)
	if r.db != nil {
		return r.db.Delete(append(append([]byte(nil), keyPrefix...), destination...))
	}
	return nil
}

// List returns every schema ordered by destination.
func (r *Registry) List() []Schema {
	r.mu.RLock()
	out := make([]Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Subscribe registers fn for changes to destination. The returned func
// removes the listener.
func (r *Registry) Subscribe(destination string, fn Listener) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return nil, err
	}
	r.nextID++
	id := r.nextID
	if r.listeners[destination] == nil {
		r.listeners[destination] = make(map[uint64]Listener)
	}
	r.listeners[destination][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners[destination], id)
		if len(r.listeners[destination]) == 0 {
			delete(r.listeners, destination)
		}
	}, nil
}
