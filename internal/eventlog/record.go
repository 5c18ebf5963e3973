package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
)

// ErrCorrupt is returned when an entry fails its checksum.
var ErrCorrupt = errors.New("eventlog: corrupt entry")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func frame(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

// unframe splits an entry. The returned slices alias b.
func unframe(b []byte) (header, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n-4) < hlen {
		return nil, nil, false
	}
	header = b[n : n+int(hlen)]
	payload = b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, false
	}
	return header, payload, true
}

func encodeEntry(m *message.Message) ([]byte, error) {
	hdr, err := message.EncodeHeader(m)
	if err != nil {
		return nil, err
	}
	return frame(hdr, m.Payload), nil
}

func decodeEntry(id uint64, b []byte) (*message.Message, error) {
	hdr, payload, ok := unframe(b)
	if !ok {
		return nil, ErrCorrupt
	}
	return message.Decode(id, hdr, append([]byte(nil), payload...))
}
