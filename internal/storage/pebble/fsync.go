package pebblestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
)

// defaultSyncInterval is the WAL group-commit window used when none is set.
const defaultSyncInterval = 5 * time.Millisecond

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	// FsyncModeUnspecified behaves like FsyncModeInterval with the default window.
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble's background flushes.
	FsyncModeNever
)

var fsyncNames = map[string]FsyncMode{
	"":         FsyncModeUnspecified,
	"always":   FsyncModeAlways,
	"interval": FsyncModeInterval,
	"never":    FsyncModeNever,
}

// ParseFsyncMode accepts the delivery.fsync config values.
func ParseFsyncMode(s string) (FsyncMode, error) {
	m, ok := fsyncNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return FsyncModeUnspecified, fmt.Errorf("pebble: unknown fsync mode %q", s)
	}
	return m, nil
}

func (m FsyncMode) String() string {
	for name, v := range fsyncNames {
		if v == m && name != "" {
			return name
		}
	}
	return "default"
}

// apply configures po for the mode and returns the write options commits use.
func (m FsyncMode) apply(po *pebble.Options, interval time.Duration) *pebble.WriteOptions {
	switch m {
	case FsyncModeAlways:
		return pebble.Sync
	case FsyncModeNever:
		return pebble.NoSync
	}
	if m != FsyncModeInterval || interval <= 0 {
		interval = defaultSyncInterval
	}
	po.WALMinSyncInterval = func() time.Duration { return interval }
	return pebble.NoSync
}
