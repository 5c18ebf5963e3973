// Package ack implements credit managers and acknowledgement controllers.
//
// A controller tracks the identifiers sent to one consumer and not yet
// acknowledged. CanSend holds while that count is below the credit limit,
// so the outstanding count never exceeds the limit at send time.
package ack

import (
	"sync/atomic"
)

// CreditManager holds the maximum number of outstanding messages.
type CreditManager interface {
	Limit() int
	// Update sets a new limit. Negative values become zero.
	Update(n int)
}

// FixedCredit ignores updates. Shared groups use it for their canonical view.
type FixedCredit struct{ n int }

func NewFixedCredit(n int) *FixedCredit { return &FixedCredit{n: max(n, 0)} }

func (c *FixedCredit) Limit() int { return c.n }
func (c *FixedCredit) Update(int) {}

// ClientCredit is driven by the consumer, for example an MQTT receive
// maximum or an AMQP link credit.
type ClientCredit struct{ n atomic.Int64 }

func NewClientCredit(n int) *ClientCredit {
	c := &ClientCredit{}
	c.Update(n)
	return c
}

func (c *ClientCredit) Limit() int { return int(c.n.Load()) }

func (c *ClientCredit) Update(n int) {
	if n < 0 {
		n = 0
	}
	c.n.Store(int64(n))
}
