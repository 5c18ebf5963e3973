package message

import (
	"testing"
	"time"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	m := &Message{
		Priority:   7,
		Properties: map[string]any{"region": "eu", "count": 3, "ratio": 0.5, "flag": true},
		Meta:       map[string]string{"protocol": "mqtt"},
		SessionID:  "s1",
		Timestamp:  1700000000000,
		Expiry:     1700000005000,
	}
	hdr, err := EncodeHeader(m)
	require.NoError(t, err)

	got, err := Decode(42, hdr, []byte("body"))
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.ID)
	require.Equal(t, 7, got.Priority)
	require.Equal(t, "eu", got.Properties["region"])
	require.Equal(t, int64(3), got.Properties["count"])
	require.Equal(t, 0.5, got.Properties["ratio"])
	require.Equal(t, "mqtt", got.Meta["protocol"])
	require.Equal(t, []byte("body"), got.Payload)

	exp, ok := ExpiryOf(hdr)
	require.True(t, ok)
	require.Equal(t, m.Expiry, exp)
}

func TestViewResolvesWellKnownProperties(t *testing.T) {
	m := &Message{ID: 9, Priority: 6, Properties: map[string]any{"kind": "a"}, Payload: []byte(`{"t":41}`)}
	f := selector.MustCompile("JMSPriority > 4 AND kind = 'a' AND PARSER('json', 't') > 40")
	require.True(t, f.Evaluate(m.View()))

	m.Priority = 2
	require.False(t, f.Evaluate(m.View()))
}

func TestExpired(t *testing.T) {
	now := time.UnixMilli(1000)
	require.False(t, (&Message{}).Expired(now))
	require.True(t, (&Message{Expiry: 1000}).Expired(now))
	require.False(t, (&Message{Expiry: 1001}).Expired(now))
	require.Equal(t, MaxPriority, ClampPriority(42))
	require.Equal(t, MinPriority, ClampPriority(-1))
}
