// Package pebblestore is the broker's durable key space. A single Pebble
// instance holds message logs, persisted bitset segments and the
// subscription catalog; callers keep them apart by key prefix and use Scan
// and DeletePrefix to walk or drop one of them.
//
// Writes commit with the policy chosen by FsyncMode. Every read, write and
// batch commit is reported to an optional MetricsHook.
package pebblestore
