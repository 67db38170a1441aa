package adapter

import (
	"sync"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// addressResolver is notified whenever a resolvable private address is
// matched to a stored identity, so the kernel resolving list stays in sync.
type addressResolver interface {
	NotifyResolvedAddress(identity, visible bluecore.DeviceID) bluecore.Status
}

// irkSource supplies identity resolving keys beyond the ones held by live
// device records, typically from the persisted key store.
type irkSource interface {
	IdentityKeys() []smp.IdentityResolvingKey
}

// Registry holds the four device lists. Each list has its own lock and no
// operation holds two list locks at once; cross-list consistency comes from
// the ordering of the individual operations, with "connected implies shared"
// being the only hard invariant.
type Registry struct {
	muDiscovered sync.Mutex
	discovered   []*Device

	muShared sync.Mutex
	shared   []*Device

	muConnected sync.Mutex
	connected   []*Device

	// pausing holds identities, not records. Entries whose device left the
	// shared pool are pruned lazily on traversal.
	muPausing sync.Mutex
	pausing   []bluecore.DeviceID

	resolver addressResolver
	irks     irkSource
}

// NewRegistry ...
func NewRegistry(resolver addressResolver, irks irkSource) *Registry {
	return &Registry{resolver: resolver, irks: irks}
}

func findIn(list []*Device, id bluecore.DeviceID) *Device {
	for _, d := range list {
		if d.matches(id) {
			return d
		}
	}
	return nil
}

func removeFrom(list []*Device, id bluecore.DeviceID) ([]*Device, bool) {
	for i, d := range list {
		if d.matches(id) {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

// FindDiscovered ...
func (r *Registry) FindDiscovered(id bluecore.DeviceID) *Device {
	r.muDiscovered.Lock()
	defer r.muDiscovered.Unlock()
	return findIn(r.discovered, id)
}

// FindShared looks a device up by identity or visible address. When the
// address is a resolvable private address and no direct match exists, it is
// checked against every known identity resolving key; a hit updates the
// device's visible address and notifies the resolver.
func (r *Registry) FindShared(id bluecore.DeviceID) *Device {
	r.muShared.Lock()
	d := findIn(r.shared, id)
	r.muShared.Unlock()
	if d != nil {
		return d
	}
	if !id.Resolvable() {
		return nil
	}
	return r.resolveShared(id)
}

func (r *Registry) resolveShared(rpa bluecore.DeviceID) *Device {
	r.muShared.Lock()
	pool := make([]*Device, len(r.shared))
	copy(pool, r.shared)
	r.muShared.Unlock()

	for _, d := range pool {
		k := d.irk()
		if k == nil || !k.Matches(rpa) {
			continue
		}
		d.setVisible(rpa)
		r.notifyResolved(d.ID(), rpa)
		return d
	}

	if r.irks == nil {
		return nil
	}
	for _, k := range r.irks.IdentityKeys() {
		if !k.Matches(rpa) {
			continue
		}
		r.muShared.Lock()
		d := findIn(r.shared, k.Identity)
		r.muShared.Unlock()
		if d == nil {
			continue
		}
		d.setVisible(rpa)
		r.notifyResolved(d.ID(), rpa)
		return d
	}
	return nil
}

func (r *Registry) notifyResolved(identity, visible bluecore.DeviceID) {
	if r.resolver == nil {
		return
	}
	if st := r.resolver.NotifyResolvedAddress(identity, visible); !st.Ok() {
		logger.Warnf("registry: resolved address notify for %v failed: %v", identity, st)
	}
}

// FindConnected ...
func (r *Registry) FindConnected(id bluecore.DeviceID) *Device {
	r.muConnected.Lock()
	defer r.muConnected.Unlock()
	return findIn(r.connected, id)
}

// AddDiscovered inserts the device unless an equal one is already present.
func (r *Registry) AddDiscovered(d *Device) bool {
	r.muDiscovered.Lock()
	defer r.muDiscovered.Unlock()
	if findIn(r.discovered, d.ID()) != nil {
		return false
	}
	r.discovered = append(r.discovered, d)
	return true
}

// RemoveDiscovered ...
func (r *Registry) RemoveDiscovered(id bluecore.DeviceID) bool {
	r.muDiscovered.Lock()
	defer r.muDiscovered.Unlock()
	var ok bool
	r.discovered, ok = removeFrom(r.discovered, id)
	return ok
}

// ClearDiscovered empties the discovered list and returns how many entries
// were dropped.
func (r *Registry) ClearDiscovered() int {
	r.muDiscovered.Lock()
	defer r.muDiscovered.Unlock()
	n := len(r.discovered)
	r.discovered = nil
	return n
}

// AddShared ...
func (r *Registry) AddShared(d *Device) bool {
	r.muShared.Lock()
	defer r.muShared.Unlock()
	if findIn(r.shared, d.ID()) != nil {
		return false
	}
	r.shared = append(r.shared, d)
	return true
}

// RemoveShared refuses to evict a connected device: connected devices must
// stay in the shared pool.
func (r *Registry) RemoveShared(id bluecore.DeviceID) bool {
	if r.FindConnected(id) != nil {
		return false
	}
	r.muShared.Lock()
	defer r.muShared.Unlock()
	var ok bool
	r.shared, ok = removeFrom(r.shared, id)
	return ok
}

// AddConnected marks the device connected. The device is inserted into the
// shared pool first so the containment invariant holds at every point in
// time.
func (r *Registry) AddConnected(d *Device) bool {
	r.AddShared(d)
	r.muConnected.Lock()
	defer r.muConnected.Unlock()
	if findIn(r.connected, d.ID()) != nil {
		return false
	}
	r.connected = append(r.connected, d)
	return true
}

// RemoveConnected ...
func (r *Registry) RemoveConnected(id bluecore.DeviceID) bool {
	r.muConnected.Lock()
	defer r.muConnected.Unlock()
	var ok bool
	r.connected, ok = removeFrom(r.connected, id)
	return ok
}

// AddPausing records a device whose connection paused discovery.
func (r *Registry) AddPausing(id bluecore.DeviceID) bool {
	r.muPausing.Lock()
	defer r.muPausing.Unlock()
	for _, p := range r.pausing {
		if p.Equal(id) {
			return false
		}
	}
	r.pausing = append(r.pausing, id)
	return true
}

// RemovePausing ...
func (r *Registry) RemovePausing(id bluecore.DeviceID) bool {
	r.muPausing.Lock()
	defer r.muPausing.Unlock()
	for i, p := range r.pausing {
		if p.Equal(id) {
			r.pausing = append(r.pausing[:i], r.pausing[i+1:]...)
			return true
		}
	}
	return false
}

// ClearPausing ...
func (r *Registry) ClearPausing() {
	r.muPausing.Lock()
	r.pausing = nil
	r.muPausing.Unlock()
}

// PausingPending reports whether any pausing entry still refers to a live
// shared device, pruning the ones that no longer do. The shared-pool lookups
// run outside the pausing lock; only entries found dead are removed, so a
// concurrent AddPausing is never lost.
func (r *Registry) PausingPending() bool {
	r.muPausing.Lock()
	ids := make([]bluecore.DeviceID, len(r.pausing))
	copy(ids, r.pausing)
	r.muPausing.Unlock()

	var dead []bluecore.DeviceID
	for _, id := range ids {
		r.muShared.Lock()
		live := findIn(r.shared, id) != nil
		r.muShared.Unlock()
		if !live {
			dead = append(dead, id)
		}
	}

	r.muPausing.Lock()
	defer r.muPausing.Unlock()
	if len(dead) > 0 {
		alive := r.pausing[:0]
		for _, p := range r.pausing {
			drop := false
			for _, x := range dead {
				if p.Equal(x) {
					drop = true
					break
				}
			}
			if !drop {
				alive = append(alive, p)
			}
		}
		r.pausing = alive
	}
	return len(r.pausing) > 0
}

// Discovered returns a snapshot of the discovered list.
func (r *Registry) Discovered() []*Device {
	r.muDiscovered.Lock()
	defer r.muDiscovered.Unlock()
	out := make([]*Device, len(r.discovered))
	copy(out, r.discovered)
	return out
}

// Shared returns a snapshot of the shared pool.
func (r *Registry) Shared() []*Device {
	r.muShared.Lock()
	defer r.muShared.Unlock()
	out := make([]*Device, len(r.shared))
	copy(out, r.shared)
	return out
}

// Connected returns a snapshot of the connected list.
func (r *Registry) Connected() []*Device {
	r.muConnected.Lock()
	defer r.muConnected.Unlock()
	out := make([]*Device, len(r.connected))
	copy(out, r.connected)
	return out
}
