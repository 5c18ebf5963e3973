// Package subscription delivers a destination's messages to consumers.
//
// A subscription is composed from three parts: a state.Tracker holding the
// identifiers it still owes (at rest) or awaits acks for (in flight), an
// ack.Controller bounding what may be outstanding, and a Sink the protocol
// layer receives messages through. Four kinds exist:
//
//	Standard  one consumer, its own identifier sets
//	Shared    a group of members drawing round-robin from one set
//	Browser   a read-only view over a snapshot of another subscription
//	Schema    schema change notifications for the destination
//
// Every mutation runs as a task on the owning destination's queue (see
// Host.Submit). Handle methods such as AckReceived only enqueue work and
// return immediately; Close, Delete and Stats wait for their task.
//
// The Builder is the only constructor; it picks the kind from Context.
package subscription
