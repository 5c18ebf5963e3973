// Package eventlog is the pebble-backed message store of a destination.
//
// Each destination owns an append-only keyspace:
//   - d/{len_be2}{destination}/m            (metadata: last assigned identifier)
//   - d/{len_be2}{destination}/e/{id_be8}   (entries)
//
// Entries are framed as: headerLen(uvarint) | header | payload | crc32c(header|payload),
// where header is the cbor envelope produced by message.EncodeHeader.
//
//	l, _ := Open(db, "topic/sensors")
//	ids, _ := l.Append(ctx, []*message.Message{m1, m2})
//	m, _ := l.Get(ids[0])
//	_ = l.Delete(ctx, ids[0])
//	msgs, next := l.Read(ReadOptions{Start: next, Limit: 100})
//	expired, _ := l.TrimExpired(ctx, time.Now(), 1024)
//
// Identifiers are assigned in append order and are never reused, which is
// what lets subscriptions track them in ordered bitset segments.
package eventlog
