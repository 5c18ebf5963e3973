package ack

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrCreditExhausted is returned by Sent when the controller has no credit left.
var ErrCreditExhausted = errors.New("ack: credit exhausted")

// Mode selects how acknowledgements are interpreted.
type Mode int

const (
	// Auto commits as soon as the sink accepts the message.
	Auto Mode = iota
	// Client acks are cumulative: acking id acks every outstanding id <= id.
	Client
	// Individual acks apply to exactly one id.
	Individual
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Client:
		return "client"
	case Individual:
		return "individual"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts auto, client or individual.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "client":
		return Client, nil
	case "individual":
		return Individual, nil
	}
	return Auto, fmt.Errorf("ack: unknown mode %q", s)
}

// Controller tracks outstanding identifiers of one consumer.
type Controller struct {
	mode   Mode
	credit CreditManager

	mu          sync.Mutex
	outstanding map[uint64]struct{}
}

// New returns a controller for mode limited by credit.
func New(mode Mode, credit CreditManager) *Controller {
	return &Controller{mode: mode, credit: credit, outstanding: make(map[uint64]struct{})}
}

func (c *Controller) Mode() Mode            { return c.mode }
func (c *Controller) Credit() CreditManager { return c.credit }

// CanSend reports whether another message may be sent.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding) < c.credit.Limit()
}

// Sent records a delivery. It reports true when the id is committed
// immediately (auto mode) and therefore not outstanding.
func (c *Controller) Sent(id uint64) (committed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outstanding) >= c.credit.Limit() {
		return false, ErrCreditExhausted
	}
	if c.mode == Auto {
		return true, nil
	}
	c.outstanding[id] = struct{}{}
	return false, nil
}

// Ack returns the outstanding identifiers the acknowledgement of id covers,
// in ascending order, and forgets them.
func (c *Controller) Ack(id uint64) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != Client {
		if _, ok := c.outstanding[id]; !ok {
			return nil
		}
		delete(c.outstanding, id)
		return []uint64{id}
	}
	var out []uint64
	for o := range c.outstanding {
		if o <= id {
			out = append(out, o)
		}
	}
	for _, o := range out {
		delete(c.outstanding, o)
	}
	slices.Sort(out)
	return out
}

// Rollback forgets id and reports whether it was outstanding.
func (c *Controller) Rollback(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outstanding[id]; !ok {
		return false
	}
	delete(c.outstanding, id)
	return true
}

// Restore marks id outstanding again after a rollback that could not be
// applied. Credit is not checked: the id never left the consumer.
func (c *Controller) Restore(id uint64) {
	if c.mode == Auto {
		return
	}
	c.mu.Lock()
	c.outstanding[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// Clear forgets every outstanding id and returns them ascending.
func (c *Controller) Clear() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.outstanding))
	for id := range c.outstanding {
		out = append(out, id)
	}
	clear(c.outstanding)
	slices.Sort(out)
	return out
}
