package adapter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/seliot/bluecore"
)

// ErrNilListener is returned when a nil listener is registered.
var ErrNilListener = errors.New("adapter: nil listener")

type listenerEntry struct {
	handle uuid.UUID
	l      bluecore.Listener

	// filter restricts device-scoped callbacks to one device; nil matches
	// everything. Adapter-scoped callbacks always go out.
	filter *bluecore.DeviceID
}

func (e *listenerEntry) wants(d *Device) bool {
	if e.filter == nil {
		return true
	}
	return d.matches(*e.filter)
}

// listenerSet holds registered listeners behind a copy-on-write snapshot.
// Dispatch never takes the write lock, so a listener may add or remove
// listeners from inside a callback without deadlocking.
type listenerSet struct {
	mu      sync.Mutex   // serializes writers
	entries atomic.Value // []listenerEntry
}

func newListenerSet() *listenerSet {
	s := &listenerSet{}
	s.entries.Store([]listenerEntry(nil))
	return s
}

func (s *listenerSet) snapshot() []listenerEntry {
	return s.entries.Load().([]listenerEntry)
}

func (s *listenerSet) add(l bluecore.Listener, filter *bluecore.DeviceID) (uuid.UUID, error) {
	if l == nil {
		return uuid.Nil, ErrNilListener
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	next := make([]listenerEntry, len(cur), len(cur)+1)
	copy(next, cur)
	e := listenerEntry{handle: uuid.New(), l: l, filter: filter}
	next = append(next, e)
	s.entries.Store(next)
	return e.handle, nil
}

func (s *listenerSet) remove(handle uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	for i := range cur {
		if cur[i].handle == handle {
			next := make([]listenerEntry, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			s.entries.Store(next)
			return true
		}
	}
	return false
}

func (s *listenerSet) len() int {
	return len(s.snapshot())
}

// safeCall isolates listener panics so one broken listener cannot take the
// event pump down or starve its peers.
func safeCall(e *listenerEntry, fn func(bluecore.Listener)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("adapter: listener %s panicked: %v", e.handle, r)
		}
	}()
	fn(e.l)
}

// dispatchFound offers the device to every matching listener and reports
// whether at least one claimed interest.
func (s *listenerSet) dispatchFound(d *Device, at time.Time) bool {
	accepted := false
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		if !e.wants(d) {
			continue
		}
		safeCall(e, func(l bluecore.Listener) {
			if l.DeviceFound(d, at) {
				accepted = true
			}
		})
	}
	return accepted
}

func (s *listenerSet) dispatchUpdated(d *Device, changed bluecore.EIRMask, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		if !e.wants(d) {
			continue
		}
		safeCall(e, func(l bluecore.Listener) { l.DeviceUpdated(d, changed, at) })
	}
}

func (s *listenerSet) dispatchConnected(d *Device, handle uint16, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		if !e.wants(d) {
			continue
		}
		safeCall(e, func(l bluecore.Listener) { l.DeviceConnected(d, handle, at) })
	}
}

func (s *listenerSet) dispatchDisconnected(d *Device, reason byte, handle uint16, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		if !e.wants(d) {
			continue
		}
		safeCall(e, func(l bluecore.Listener) { l.DeviceDisconnected(d, reason, handle, at) })
	}
}

func (s *listenerSet) dispatchPairingState(d *Device, state bluecore.PairingState, mode bluecore.PairingMode, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		if !e.wants(d) {
			continue
		}
		safeCall(e, func(l bluecore.Listener) { l.PairingStateChanged(d, state, mode, at) })
	}
}

func (s *listenerSet) dispatchDiscovering(scan, changed bluecore.ScanType, enabled bool, policy bluecore.DiscoveryPolicy, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		safeCall(e, func(l bluecore.Listener) { l.DiscoveringChanged(scan, changed, enabled, policy, at) })
	}
}

func (s *listenerSet) dispatchSettings(old, cur, changed bluecore.AdapterSetting, at time.Time) {
	snap := s.snapshot()
	for i := range snap {
		e := &snap[i]
		safeCall(e, func(l bluecore.Listener) { l.SettingsChanged(old, cur, changed, at) })
	}
}
