package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/taskqueue"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/idset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
)

var (
	// ErrClosed is returned by operations on a closed subscription.
	ErrClosed = errors.New("subscription: closed")
	// ErrInvalidContext rejects a context no subscription kind can serve.
	ErrInvalidContext = errors.New("subscription: invalid context")
	// ErrNoParent is returned when a browser names a subscription the destination does not have.
	ErrNoParent = errors.New("subscription: browsed subscription not found")
)

// Context describes what a consumer asked for. It is persisted for
// persistent subscriptions, hence the cbor tags.
type Context struct {
	Destination string `cbor:"1,keyasint" json:"destination"`
	// Alias names the subscription within its session.
	Alias     string `cbor:"2,keyasint" json:"alias"`
	SessionID string `cbor:"3,keyasint" json:"sessionId"`
	Filter    string `cbor:"4,keyasint,omitempty" json:"filter,omitempty"`
	// FilterLanguage is "" or "sql" for the SQL-92 dialect and "cel" for CEL.
	FilterLanguage string   `cbor:"5,keyasint,omitempty" json:"filterLanguage,omitempty"`
	AckMode        ack.Mode `cbor:"6,keyasint" json:"ackMode"`
	// ReceiveMaximum is the consumer's credit. 0 selects the configured default.
	ReceiveMaximum int `cbor:"7,keyasint" json:"receiveMaximum"`
	// SharedName joins the shared group of that name.
	SharedName string `cbor:"8,keyasint,omitempty" json:"sharedName,omitempty"`
	// Browser asks for a read-only view. Parent names the subscription
	// (alias or share name) to browse; empty browses the whole destination.
	Browser    bool   `cbor:"9,keyasint,omitempty" json:"browser,omitempty"`
	Parent     string `cbor:"10,keyasint,omitempty" json:"parent,omitempty"`
	Schema     bool   `cbor:"11,keyasint,omitempty" json:"schema,omitempty"`
	NoLocal    bool   `cbor:"12,keyasint,omitempty" json:"noLocal,omitempty"`
	Persistent bool   `cbor:"13,keyasint,omitempty" json:"persistent,omitempty"`
}

// Kind is the strategy a Context selects.
type Kind int

const (
	KindStandard Kind = iota
	KindShared
	KindBrowser
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindShared:
		return "shared"
	case KindBrowser:
		return "browser"
	case KindSchema:
		return "schema"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf returns the kind the builder constructs for c.
func KindOf(c Context) Kind {
	switch {
	case c.Schema:
		return KindSchema
	case c.Browser:
		return KindBrowser
	case c.SharedName != "":
		return KindShared
	default:
		return KindStandard
	}
}

// State is the lifecycle of a subscription.
type State int32

const (
	Active State = iota
	Hibernating
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Hibernating:
		return "hibernating"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Delivery is one message handed to a sink.
type Delivery struct {
	SubscriptionID string
	Destination    string
	Alias          string
	Message        *message.Message
}

// Sink receives deliveries. It runs on the destination queue and must not block.
// An error rolls the message back.
type Sink interface {
	SendMessage(d Delivery) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d Delivery) error

func (f SinkFunc) SendMessage(d Delivery) error { return f(d) }

// Stats is a point-in-time view of a subscription.
type Stats struct {
	ID          string
	Destination string
	Alias       string
	Kind        Kind
	State       State
	Pending     int
	InFlight    int
	Outstanding int
	Credit      int
	Members     int

	Registered uint64
	Ignored    uint64
	Sent       uint64
	Acked      uint64
	RolledBack uint64
	Expired    uint64
	// Failed is set once delivery halted on exhausted identifier storage.
	Failed bool
}

// Subscription is the handle a protocol layer drives.
type Subscription interface {
	ID() string
	Context() Context
	Kind() Kind
	State() State
	AckReceived(id uint64)
	RollbackReceived(id uint64)
	UpdateCredit(n int)
	Pause()
	Unpause()
	Hibernate()
	Resume(sink Sink)
	Stats(ctx context.Context) (Stats, error)
	// Close stops delivery and returns outstanding ids to rest. Persistent
	// subscriptions keep their state for a later Restore.
	Close(ctx context.Context) error
	// Delete closes and drops every persisted trace of the subscription.
	Delete(ctx context.Context) error
}

// Host is the destination as seen by its subscriptions. Every method
// except Submit and IsClosed must be called from the destination queue.
type Host interface {
	Name() string
	Submit(task taskqueue.Task) *taskqueue.Future
	IsClosed() bool
	Message(id uint64) (*message.Message, bool)
	// Identifiers returns every stored message id in ascending order.
	Identifiers() []uint64
	// Complete reports ids a subscription no longer holds; the host drops
	// the message once no entry holds it.
	Complete(ids ...uint64)
	Attach(e Entry)
	Detach(e Entry)
	// Lookup finds an attached entry by alias or share name.
	Lookup(name string) (Entry, bool)
	Shares() *SharedRegistry
}

// Entry is what a destination fans published messages out to.
type Entry interface {
	Name() string
	Kind() Kind
	// Register offers m. It reports whether m was taken. An error is fatal
	// for the entry's state.
	Register(m *message.Message) (bool, error)
	// HasMessage reports whether the entry still holds id. Browsers never do.
	HasMessage(id uint64) bool
	Filter() selector.Executor
	// Snapshot copies every identifier the entry holds.
	Snapshot(owner uint64, factory bitset.Factory) (*idset.Set, error)
	// Shutdown releases the entry's in-memory state when the destination closes.
	Shutdown()
}

// Store persists contexts of persistent subscriptions.
type Store interface {
	SaveSubscription(id string, c Context) error
	DeleteSubscription(id string) error
}
