package message

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// header is the stored envelope of a message minus identifier and payload.
type header struct {
	Priority      int               `cbor:"1,keyasint,omitempty"`
	Properties    map[string]any    `cbor:"2,keyasint,omitempty"`
	Meta          map[string]string `cbor:"3,keyasint,omitempty"`
	SessionID     string            `cbor:"4,keyasint,omitempty"`
	CorrelationID string            `cbor:"5,keyasint,omitempty"`
	ContentType   string            `cbor:"6,keyasint,omitempty"`
	SchemaID      string            `cbor:"7,keyasint,omitempty"`
	Timestamp     int64             `cbor:"8,keyasint,omitempty"`
	Expiry        int64             `cbor:"9,keyasint,omitempty"`
	StoreOffline  bool              `cbor:"10,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{Sort: cbor.SortCanonical}).EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}).DecMode(); err != nil {
		panic(err)
	}
}

// EncodeHeader serializes everything but ID and Payload.
func EncodeHeader(m *Message) ([]byte, error) {
	h := header{
		Priority:      m.Priority,
		Properties:    m.Properties,
		Meta:          m.Meta,
		SessionID:     m.SessionID,
		CorrelationID: m.CorrelationID,
		ContentType:   m.ContentType,
		SchemaID:      m.SchemaID,
		Timestamp:     m.Timestamp,
		Expiry:        m.Expiry,
		StoreOffline:  m.StoreOffline,
	}
	b, err := encMode.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("message: encode header: %w", err)
	}
	return b, nil
}

// Decode rebuilds a message from its stored parts.
func Decode(id uint64, hdr, payload []byte) (*Message, error) {
	var h header
	if len(hdr) > 0 {
		if err := decMode.Unmarshal(hdr, &h); err != nil {
			return nil, fmt.Errorf("message: decode header of %d: %w", id, err)
		}
	}
	return &Message{
		ID:            id,
		Priority:      ClampPriority(h.Priority),
		Properties:    h.Properties,
		Meta:          h.Meta,
		Payload:       payload,
		SessionID:     h.SessionID,
		CorrelationID: h.CorrelationID,
		ContentType:   h.ContentType,
		SchemaID:      h.SchemaID,
		Timestamp:     h.Timestamp,
		Expiry:        h.Expiry,
		StoreOffline:  h.StoreOffline,
	}, nil
}

// ExpiryOf reads only the expiry of an encoded header.
func ExpiryOf(hdr []byte) (int64, bool) {
	var h struct {
		Expiry int64 `cbor:"9,keyasint,omitempty"`
	}
	if err := decMode.Unmarshal(hdr, &h); err != nil {
		return 0, false
	}
	return h.Expiry, h.Expiry > 0
}
