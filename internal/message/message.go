// Package message defines the broker's stored message and its header codec.
package message

import (
	"time"
)

// Priority bounds. Higher values are delivered first.
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 4
	Priorities      = MaxPriority + 1
)

// Well-known property names resolvable by filters without a property entry.
const (
	PropPriority    = "JMSPriority"
	PropMessageID   = "JMSMessageID"
	PropTimestamp   = "JMSTimestamp"
	PropExpiration  = "JMSExpiration"
	PropCorrelation = "JMSCorrelationID"
	PropContentType = "ContentType"
)

// Message is a stored message. Identifier is assigned by the destination store.
type Message struct {
	ID            uint64
	Priority      int
	Properties    map[string]any
	Meta          map[string]string
	Payload       []byte
	SessionID     string // publisher session, used for no-local suppression
	CorrelationID string
	ContentType   string
	SchemaID      string
	Timestamp     int64 // unix ms
	Expiry        int64 // unix ms, zero means never
	StoreOffline  bool
}

// ClampPriority bounds p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	switch {
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	}
	return p
}

// Expired reports whether the message expired at now.
func (m *Message) Expired(now time.Time) bool {
	return m.Expiry > 0 && now.UnixMilli() >= m.Expiry
}

// Get resolves a property for filter evaluation.
func (m *Message) Get(key string) (any, bool) {
	if v, ok := m.Properties[key]; ok {
		return v, true
	}
	switch key {
	case PropPriority:
		return int64(m.Priority), true
	case PropMessageID:
		return int64(m.ID), true
	case PropTimestamp:
		return m.Timestamp, m.Timestamp != 0
	case PropExpiration:
		return m.Expiry, true
	case PropCorrelation:
		return m.CorrelationID, m.CorrelationID != ""
	case PropContentType:
		return m.ContentType, m.ContentType != ""
	}
	return nil, false
}

// View adapts a message to the filter resolver interface.
type View struct{ m *Message }

// View returns a filter resolver over m.
func (m *Message) View() View { return View{m: m} }

func (v View) Get(key string) (any, bool) { return v.m.Get(key) }
func (v View) Payload() []byte            { return v.m.Payload }
func (v View) Properties() map[string]any { return v.m.Properties }
