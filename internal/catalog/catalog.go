// Package catalog records the destinations a node has opened and the
// contexts of persistent subscriptions, so both survive a restart.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

// Meta holds destination metadata.
type Meta struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

var (
	destMetaPrefix = []byte("catalog/dest/")
	subPrefix      = []byte("catalog/sub/")
)

func destMetaKey(name string) []byte {
	k := make([]byte, 0, len(destMetaPrefix)+len(name))
	k = append(k, destMetaPrefix...)
	return append(k, name...)
}

func subKey(id string) []byte {
	k := make([]byte, 0, len(subPrefix)+len(id))
	k = append(k, subPrefix...)
	return append(k, id...)
}

// Catalog is safe for concurrent use; pebble serializes the writes.
type Catalog struct {
	db  *pebblestore.DB
	now func() time.Time
}

func New(db *pebblestore.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// EnsureDestination creates a destination record if absent, returning the
// effective meta. Idempotent: an existing record is returned unchanged.
func (c *Catalog) EnsureDestination(name, kind string) (Meta, error) {
	key := destMetaKey(name)
	if b, err := c.db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// rewrite a corrupt record
	} else if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return Meta{}, fmt.Errorf("catalog: load %s: %w", name, err)
	}
	m := Meta{Name: name, Kind: kind, CreatedAtMs: c.now().UnixMilli()}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := c.db.Set(key, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Destinations returns every recorded destination ordered by name.
func (c *Catalog) Destinations() ([]Meta, error) {
	var out []Meta
	err := c.db.Scan(destMetaPrefix, func(_, value []byte) bool {
		var m Meta
		if json.Unmarshal(value, &m) == nil {
			out = append(out, m)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// RemoveDestination drops the destination record and every subscription
// context bound to it.
func (c *Catalog) RemoveDestination(name string) error {
	subs, err := c.Subscriptions(name)
	if err != nil {
		return err
	}
	for id := range subs {
		if err := c.DeleteSubscription(id); err != nil {
			return err
		}
	}
	return c.db.Delete(destMetaKey(name))
}

// SaveSubscription stores the context of a persistent subscription.
func (c *Catalog) SaveSubscription(id string, sc subscription.Context) error {
	b, err := cbor.Marshal(sc)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", id, err)
	}
	return c.db.Set(subKey(id), b)
}

func (c *Catalog) DeleteSubscription(id string) error {
	return c.db.Delete(subKey(id))
}

// Subscriptions returns the persisted contexts of destination keyed by
// subscription id. Undecodable records are skipped.
func (c *Catalog) Subscriptions(destination string) (map[string]subscription.Context, error) {
	out := make(map[string]subscription.Context)
	err := c.db.Scan(subPrefix, func(key, value []byte) bool {
		var sc subscription.Context
		if cbor.Unmarshal(value, &sc) != nil || sc.Destination != destination {
			return true
		}
		out[string(key[len(subPrefix):])] = sc
		return true
	})
	return out, err
}
