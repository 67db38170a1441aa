package smp

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by Poll after Close.
	ErrClosed = errors.New("smp: reply ring closed")
	// ErrTimeout is returned by Poll when no reply arrived in time.
	ErrTimeout = errors.New("smp: reply wait timeout")
)

// ReplyRing is a bounded ring buffer of solicited SMP replies. When full, the
// oldest entry is dropped to make room, so a stalled reader never blocks the
// event path.
type ReplyRing struct {
	mu     sync.Mutex
	buf    []PDU
	head   int
	count  int
	notify chan struct{}
	closed bool
}

// NewReplyRing creates a ring holding up to capacity replies.
func NewReplyRing(capacity int) *ReplyRing {
	if capacity <= 0 {
		capacity = 8
	}
	return &ReplyRing{
		buf:    make([]PDU, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends a reply, dropping the oldest one when the ring is full.
func (r *ReplyRing) Push(p PDU) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.count == len(r.buf) {
		// full: overwrite the oldest entry
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
	r.buf[(r.head+r.count)%len(r.buf)] = p
	r.count++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Poll removes and returns the oldest reply, waiting up to timeout.
func (r *ReplyRing) Poll(timeout time.Duration) (PDU, error) {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		if r.count > 0 {
			p := r.buf[r.head]
			r.buf[r.head] = nil
			r.head = (r.head + 1) % len(r.buf)
			r.count--
			r.mu.Unlock()
			return p, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrTimeout
		}
		select {
		case <-r.notify:
		case <-time.After(wait):
			return nil, ErrTimeout
		}
	}
}

// Len returns the number of buffered replies.
func (r *ReplyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close releases pending and future Poll calls with an error.
func (r *ReplyRing) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}
