package destination

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/eventlog"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

// Store holds the messages of one destination. Identifiers are assigned
// by Append in ascending order and never reused.
type Store interface {
	Append(ctx context.Context, msgs []*message.Message) ([]uint64, error)
	// Get returns eventlog.ErrNotFound for missing identifiers.
	Get(id uint64) (*message.Message, error)
	Delete(ctx context.Context, ids ...uint64) error
	Identifiers() ([]uint64, error)
	TrimExpired(ctx context.Context, now time.Time, batchLimit int) ([]uint64, error)
	Purge(ctx context.Context) error
}

var (
	_ Store = (*eventlog.Log)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore keeps messages on the heap. It backs destinations of a node
// running without a data directory.
type MemoryStore struct {
	mu     sync.Mutex
	lastID uint64
	msgs   map[uint64]*message.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[uint64]*message.Message)}
}

func (s *MemoryStore) Append(_ context.Context, msgs []*message.Message) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, len(msgs))
	for i, m := range msgs {
		s.lastID++
		m.ID = s.lastID
		s.msgs[m.ID] = m
		ids[i] = m.ID
	}
	return ids, nil
}

func (s *MemoryStore) Get(id uint64) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, eventlog.ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) Delete(_ context.Context, ids ...uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.msgs, id)
	}
	return nil
}

func (s *MemoryStore) Identifiers() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.msgs))
	for id := range s.msgs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// TrimExpired ignores batchLimit; deletes are not batched in memory.
func (s *MemoryStore) TrimExpired(_ context.Context, now time.Time, _ int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, m := range s.msgs {
		if m.Expired(now) {
			delete(s.msgs, id)
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Purge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.msgs)
	s.lastID = 0
	return nil
}
