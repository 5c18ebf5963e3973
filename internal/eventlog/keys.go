package eventlog

import (
	"encoding/binary"
)

var (
	destPrefix = []byte("d/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

// appendName writes a length-prefixed destination name so that no
// destination's keyspace is a prefix of another's.
func appendName(dst []byte, name string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(name)))
	return append(dst, name...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyMeta builds the destination metadata key.
func KeyMeta(destination string) []byte {
	k := make([]byte, 0, len(destination)+8)
	k = append(k, destPrefix...)
	k = appendName(k, destination)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntryPrefix is the common prefix of every entry key of a destination.
func KeyEntryPrefix(destination string) []byte {
	k := make([]byte, 0, len(destination)+16)
	k = append(k, destPrefix...)
	k = appendName(k, destination)
	k = append(k, entrySeg...)
	return k
}

// KeyEntry builds the entry key with a big-endian identifier for ordering.
func KeyEntry(destination string, id uint64) []byte {
	return appendBE8(KeyEntryPrefix(destination), id)
}

// idFromKey extracts the identifier from an entry key.
func idFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// entryBounds returns [low, high) covering all entries of destination.
func entryBounds(destination string) ([]byte, []byte) {
	low := KeyEntry(destination, 0)
	hi := append(KeyEntry(destination, ^uint64(0)), 0x00)
	return low, hi
}
