package adapter

import (
	"sync"
	"time"

	"github.com/seliot/bluecore"
)

// connectionGate serializes outgoing connection attempts. Only one device may
// be in the connecting state at a time, because the controller carries a
// single IO-capability setting shared by every attempt; callers either wait
// for the slot or bail out immediately.
type connectionGate struct {
	mu      sync.Mutex
	holder  *Device
	since   time.Time
	freed   chan struct{} // closed and replaced on every release
	closed  bool
	timeout time.Duration

	defaultCap bluecore.IOCapability
	overridden bool
	setCap     func(bluecore.IOCapability) bluecore.Status
}

func newConnectionGate(timeout time.Duration, defaultCap bluecore.IOCapability, setCap func(bluecore.IOCapability) bluecore.Status) *connectionGate {
	return &connectionGate{
		freed:      make(chan struct{}),
		timeout:    timeout,
		defaultCap: defaultCap,
		setCap:     setCap,
	}
}

// acquire claims the slot for d and applies ioCap to the controller when it
// differs from the default. With wait set, the caller blocks until the slot
// frees up or the per-attempt timeout elapses; without it, a busy slot
// returns StatusBusy right away. Re-acquiring for the current holder
// succeeds idempotently.
func (g *connectionGate) acquire(d *Device, wait bool, ioCap bluecore.IOCapability) bluecore.Status {
	deadline := time.Now().Add(g.timeout)
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return bluecore.StatusClosed
		}
		if g.holder == nil {
			g.holder = d
			g.since = time.Now()
			override := ioCap != g.defaultCap && g.setCap != nil
			if override {
				g.overridden = true
			}
			g.mu.Unlock()
			if override {
				if st := g.setCap(ioCap); !st.Ok() {
					logger.Warnf("connect gate: io capability override: %v", st)
				}
			}
			return bluecore.StatusSuccess
		}
		if g.holder == d {
			g.mu.Unlock()
			return bluecore.StatusSuccess
		}
		if !wait {
			g.mu.Unlock()
			return bluecore.StatusBusy
		}
		freed := g.freed
		g.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return bluecore.StatusTimeout
		}
		t := time.NewTimer(remain)
		select {
		case <-freed:
			t.Stop()
		case <-t.C:
			return bluecore.StatusTimeout
		}
	}
}

// release frees the slot if d holds it, restores the default IO capability
// after an override and wakes every waiter.
func (g *connectionGate) release(d *Device) {
	g.mu.Lock()
	if g.holder != d {
		g.mu.Unlock()
		return
	}
	g.holder = nil
	restore := g.overridden
	g.overridden = false
	close(g.freed)
	g.freed = make(chan struct{})
	g.mu.Unlock()

	if restore && g.setCap != nil {
		if st := g.setCap(g.defaultCap); !st.Ok() {
			logger.Warnf("connect gate: io capability restore: %v", st)
		}
	}
}

// releaseAny frees the slot regardless of the holder.
func (g *connectionGate) releaseAny() {
	g.mu.Lock()
	h := g.holder
	g.mu.Unlock()
	if h != nil {
		g.release(h)
	}
}

// holderDevice returns the current slot holder, nil when idle.
func (g *connectionGate) holderDevice() *Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// close releases the slot permanently; blocked waiters observe StatusClosed.
func (g *connectionGate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.holder = nil
	close(g.freed)
	g.freed = make(chan struct{})
}
