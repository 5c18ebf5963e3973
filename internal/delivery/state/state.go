// Package state tracks message identifiers for one subscription view:
// at rest (pending delivery) or in flight (sent, awaiting ack).
//
// Both views are kept per priority so that Next always yields the lowest
// identifier of the highest non-empty priority.
package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("state: manager closed")

// Tracker is the view a subscription drives. Manager is the canonical
// implementation; Proxy lets shared-group members drive the group's manager.
type Tracker interface {
	// Register marks id at rest. It reports false when id is already tracked.
	Register(id uint64, priority int) (bool, error)
	// Next returns the identifier to deliver next without moving it.
	Next() (uint64, bool)
	// Allocate moves id from at rest to in flight.
	Allocate(id uint64) error
	// Commit drops an in-flight id. It reports whether id was in flight.
	Commit(id uint64) (bool, error)
	// Rollback returns an in-flight id to rest and reports how many times
	// it has now been rolled back.
	Rollback(id uint64) (int, error)
	// Release returns an in-flight id to rest without counting a redelivery.
	Release(id uint64) (bool, error)
	// Remove forgets id wherever it is.
	Remove(id uint64) error
	Has(id uint64) bool
	HasAtRest() bool
	Pending() int
	InFlight() int
}

// Options tune a Manager.
type Options struct {
	// RollbackIncrement raises the priority of a rolled back id.
	RollbackIncrement int
}

// Manager owns the identifier sets of one view. It is not safe for
// concurrent use; callers serialize through the destination task queue.
type Manager struct {
	name    string
	factory bitset.Factory
	opts    Options

	pending  [message.Priorities]*idset.Set
	inFlight [message.Priorities]*idset.Set
	retries  map[uint64]int
	closed   bool
}

func ownerFor(name, kind string, prio int) uint64 {
	return bitset.OwnerID(fmt.Sprintf("%s#%s%d", name, kind, prio))
}

// New returns an empty manager named name allocating from factory.
func New(name string, factory bitset.Factory, opts Options) *Manager {
	m := &Manager{name: name, factory: factory, opts: opts, retries: make(map[uint64]int)}
	for p := range m.pending {
		m.pending[p] = idset.New(ownerFor(name, "r", p), factory)
		m.inFlight[p] = idset.New(ownerFor(name, "f", p), factory)
	}
	return m
}

// Open reloads a manager from the segments factory already holds for name.
// Identifiers that were in flight are rolled back to rest.
func Open(name string, factory bitset.Factory, opts Options) (*Manager, error) {
	m := &Manager{name: name, factory: factory, opts: opts, retries: make(map[uint64]int)}
	for p := range m.pending {
		var err error
		if m.pending[p], err = idset.Open(ownerFor(name, "r", p), factory); err != nil {
			return nil, err
		}
		if m.inFlight[p], err = idset.Open(ownerFor(name, "f", p), factory); err != nil {
			return nil, err
		}
	}
	for p := range m.inFlight {
		if m.inFlight[p].IsEmpty() {
			continue
		}
		if err := m.pending[p].AddAll(m.inFlight[p]); err != nil {
			return nil, err
		}
		if err := m.inFlight[p].Clear(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Name() string { return m.name }

func (m *Manager) Register(id uint64, priority int) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if m.Has(id) {
		return false, nil
	}
	return m.pending[message.ClampPriority(priority)].Add(id)
}

func (m *Manager) Next() (uint64, bool) {
	for p := message.MaxPriority; p >= message.MinPriority; p-- {
		if id, ok := m.pending[p].First(); ok {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) priorityOf(sets *[message.Priorities]*idset.Set, id uint64) int {
	for p := message.MaxPriority; p >= message.MinPriority; p-- {
		if sets[p].Contains(id) {
			return p
		}
	}
	return -1
}

func (m *Manager) Allocate(id uint64) error {
	if m.closed {
		return ErrClosed
	}
	p := m.priorityOf(&m.pending, id)
	if p < 0 {
		return fmt.Errorf("state: %s: id %d is not at rest", m.name, id)
	}
	return move(id, m.pending[p], m.inFlight[p])
}

// move places id in dst before taking it out of src, so a failed segment
// allocation leaves id where it was.
func move(id uint64, src, dst *idset.Set) error {
	_, err := dst.Add(id)
	if !dst.Contains(id) {
		return err
	}
	if _, rerr := src.Remove(id); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (m *Manager) Commit(id uint64) (bool, error) {
	if m.closed {
		return false, nil
	}
	p := m.priorityOf(&m.inFlight, id)
	if p < 0 {
		return false, nil
	}
	delete(m.retries, id)
	_, err := m.inFlight[p].Remove(id)
	return true, err
}

func (m *Manager) Rollback(id uint64) (int, error) {
	if m.closed {
		return 0, nil
	}
	p := m.priorityOf(&m.inFlight, id)
	if p < 0 {
		return 0, nil
	}
	if err := move(id, m.inFlight[p], m.pending[message.ClampPriority(p+m.opts.RollbackIncrement)]); err != nil {
		return 0, err
	}
	m.retries[id]++
	return m.retries[id], nil
}

// Release returns an in-flight id to rest at its current priority without
// counting a redelivery. It reports whether id was in flight.
func (m *Manager) Release(id uint64) (bool, error) {
	if m.closed {
		return false, nil
	}
	p := m.priorityOf(&m.inFlight, id)
	if p < 0 {
		return false, nil
	}
	if err := move(id, m.inFlight[p], m.pending[p]); err != nil {
		return false, err
	}
	return true, nil
}

// AddAll registers every id of set at priority.
func (m *Manager) AddAll(set *idset.Set, priority int) error {
	if m.closed {
		return ErrClosed
	}
	return m.pending[message.ClampPriority(priority)].AddAll(set)
}

// All returns every tracked identifier, at rest or in flight, ascending.
func (m *Manager) All() []uint64 {
	var out []uint64
	for p := range m.pending {
		out = append(out, m.pending[p].Slice()...)
		out = append(out, m.inFlight[p].Slice()...)
	}
	slices.Sort(out)
	return out
}

// RollbackAll returns every in-flight id to rest.
func (m *Manager) RollbackAll() error {
	for p := range m.inFlight {
		for _, id := range m.inFlight[p].Slice() {
			if _, err := m.Rollback(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) Remove(id uint64) error {
	if m.closed {
		return nil
	}
	delete(m.retries, id)
	if p := m.priorityOf(&m.pending, id); p >= 0 {
		_, err := m.pending[p].Remove(id)
		return err
	}
	if p := m.priorityOf(&m.inFlight, id); p >= 0 {
		_, err := m.inFlight[p].Remove(id)
		return err
	}
	return nil
}

func (m *Manager) Has(id uint64) bool {
	return m.priorityOf(&m.pending, id) >= 0 || m.priorityOf(&m.inFlight, id) >= 0
}

// IsInFlight reports whether id was sent and not yet acked or rolled back.
func (m *Manager) IsInFlight(id uint64) bool { return m.priorityOf(&m.inFlight, id) >= 0 }

func (m *Manager) HasAtRest() bool {
	for _, s := range m.pending {
		if !s.IsEmpty() {
			return true
		}
	}
	return false
}

func (m *Manager) Pending() int {
	n := 0
	for _, s := range m.pending {
		n += s.Len()
	}
	return n
}

func (m *Manager) InFlight() int {
	n := 0
	for _, s := range m.inFlight {
		n += s.Len()
	}
	return n
}

// InFlightIDs returns the in-flight identifiers in ascending order.
func (m *Manager) InFlightIDs() []uint64 {
	var out []uint64
	for _, s := range m.inFlight {
		out = append(out, s.Slice()...)
	}
	slices.Sort(out)
	return out
}

// Snapshot copies every tracked identifier, at rest or in flight, into a
// new set owned by owner on factory.
func (m *Manager) Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error) {
	out := idset.New(owner, factory)
	for p := range m.pending {
		if err := out.AddAll(m.pending[p]); err != nil {
			out.Close()
			return nil, err
		}
		if err := out.AddAll(m.inFlight[p]); err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// Close releases in-memory segments. Persisted state stays with the factory.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for p := range m.pending {
		m.pending[p].Close()
		m.inFlight[p].Close()
	}
}

// Delete clears every identifier, including persisted segments, and closes the manager.
func (m *Manager) Delete() error {
	if m.closed {
		return ErrClosed
	}
	var first error
	for p := range m.pending {
		if err := m.pending[p].Clear(); err != nil && first == nil {
			first = err
		}
		if err := m.inFlight[p].Clear(); err != nil && first == nil {
			first = err
		}
	}
	m.Close()
	return first
}

func (m *Manager) IsClosed() bool { return m.closed }
