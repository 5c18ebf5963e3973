// Package metrics defines the delivery engine's observation surface and its
// collectors.
package metrics

// Recorder receives delivery events. Labels are the destination name and
// the subscription kind (standard, shared, browser, schema).
type Recorder interface {
	// Registered counts an id accepted into a subscription's at-rest set.
	Registered(destination, kind string)
	// Ignored counts an id rejected by a filter or by noLocal.
	Ignored(destination, kind, reason string)
	Sent(destination, kind string)
	Acked(destination, kind string, n int)
	RolledBack(destination, kind string)
	// Expired counts ids dropped because the message is gone, has expired
	// or exceeded the redelivery bound.
	Expired(destination, kind string)
	// BackfillSlice observes the duration in seconds and size of one browser backfill pass.
	BackfillSlice(destination string, seconds float64, scanned int)
	// Subscriptions adjusts the live subscription gauge by delta.
	Subscriptions(destination, kind string, delta int)
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = (*Nop)(nil)

// NewNop returns a no-op recorder.
func NewNop() *Nop { return &Nop{} }

func (*Nop) Registered(string, string)          {}
func (*Nop) Ignored(string, string, string)     {}
func (*Nop) Sent(string, string)                {}
func (*Nop) Acked(string, string, int)          {}
func (*Nop) RolledBack(string, string)          {}
func (*Nop) Expired(string, string)             {}
func (*Nop) BackfillSlice(string, float64, int) {}
func (*Nop) Subscriptions(string, string, int)  {}
