package smp

import (
	"fmt"

	"github.com/seliot/bluecore"
)

var logger bluecore.Logger = bluecore.GetLogger()

// Dispatcher classifies inbound SMP PDUs: unsolicited security requests are
// delivered through a callback, everything else is treated as the reply to an
// in-flight command and buffered in a bounded drop-oldest ring.
type Dispatcher struct {
	onUnsolicited func(PDU)
	ring          *ReplyRing
}

// NewDispatcher creates a dispatcher with the given security-request callback
// and reply ring capacity.
func NewDispatcher(onUnsolicited func(PDU), ringSize int) *Dispatcher {
	return &Dispatcher{
		onUnsolicited: onUnsolicited,
		ring:          NewReplyRing(ringSize),
	}
}

// Replies exposes the solicited reply ring.
func (d *Dispatcher) Replies() *ReplyRing {
	return d.ring
}

// Handle routes one raw PDU.
func (d *Dispatcher) Handle(b []byte) error {
	p := PDU(b)
	if !p.Valid() {
		return fmt.Errorf("invalid smp pdu code 0x%02x", p.Code())
	}

	if p.Unsolicited() {
		if d.onUnsolicited == nil {
			logger.Warnf("smp: dropping unsolicited pdu %s, no handler", p)
			return nil
		}
		d.onUnsolicited(p)
		return nil
	}

	d.ring.Push(p)
	return nil
}

// Close shuts down the reply ring.
func (d *Dispatcher) Close() {
	d.ring.Close()
}
