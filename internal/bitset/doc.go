// Package bitset provides fixed-range bitmap segments and the factories that
// allocate, persist and reload them.
//
// A Segment covers the identifier range [Start, Start+Size). Segments are
// owned by an identifier set (addressed by a 64-bit owner id) and are
// obtained from a Factory:
//
//	f := bitset.NewMemoryFactory(4096)
//	seg, err := f.Open(owner, 10_000) // covers [8192, 12288)
//	seg.Set(10_000)
//	_ = f.Sync(seg)
//
// The pebble factory persists each segment under seg/{owner_be8}/{start_be8}
// so identifier sets survive a restart and are reloaded through Get.
package bitset
