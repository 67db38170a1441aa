package adapter

import (
	"sync"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/smp"
)

// connectOrigin records where a newly connected device was promoted from.
// Diagnostics only, except that originNew drives the unpair-before-pairing
// decision for inbound peripheral links.
type connectOrigin int

const (
	originAlreadyConnected connectOrigin = iota
	originFromDiscovered
	originFromShared
	originNew
)

func (o connectOrigin) String() string {
	switch o {
	case originAlreadyConnected:
		return "already-connected"
	case originFromDiscovered:
		return "from-discovered"
	case originFromShared:
		return "from-shared"
	}
	return "new"
}

// deviceKeys accumulates the key material distributed during pairing.
type deviceKeys struct {
	ltk     *smp.LongTermKey
	peerLTK *smp.LongTermKey
	irk     *smp.IdentityResolvingKey
	csrk    *smp.SignatureResolvingKey
	linkKey *smp.LinkKey
}

// pairingData is the per-device security sub-record.
type pairingData struct {
	state bluecore.PairingState
	mode  bluecore.PairingMode
	ioCap bluecore.IOCapability

	// smpEvents counts observed SMP traffic; the watchdog compares it with
	// the value captured at the previous tick to detect stalled handshakes.
	// ticked marks that a baseline tick was taken in the current
	// key-distribution phase.
	smpEvents  uint32
	tickEvents uint32
	ticked     bool

	// oob is the pending out-of-band pairing exchange, if any.
	oob *smp.OOBExchange
}

// Device is the mutable record of one remote device. It may appear in more
// than one registry at a time; the shared pool is the canonical owner.
type Device struct {
	mu sync.RWMutex

	id      bluecore.DeviceID // immutable identity
	visible bluecore.DeviceID // resolvable alias, may differ from id

	name      string
	lastSeen  time.Time
	rssi      int8
	report    *hcilink.Report
	handle    uint16
	connected bool
	ready     bool
	role      bluecore.Role
	origin    connectOrigin

	pairing pairingData
	keys    deviceKeys
}

func newDevice(id bluecore.DeviceID) *Device {
	return &Device{id: id, visible: id}
}

// ID ...
func (d *Device) ID() bluecore.DeviceID {
	return d.id
}

// VisibleID ...
func (d *Device) VisibleID() bluecore.DeviceID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visible
}

func (d *Device) setVisible(id bluecore.DeviceID) {
	d.mu.Lock()
	d.visible = id
	d.mu.Unlock()
}

// matches reports whether the device is known under the given address,
// either by identity or by its current visible alias.
func (d *Device) matches(id bluecore.DeviceID) bool {
	if d.id.Equal(id) {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visible.Equal(id)
}

// Name ...
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Handle ...
func (d *Device) Handle() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// Connected ...
func (d *Device) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Role is the remote device's role at the time of interaction.
func (d *Device) Role() bluecore.Role {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.role
}

// localRole derives the local side's role from the remote one.
func (d *Device) localRole() bluecore.Role {
	switch d.Role() {
	case bluecore.RoleMaster:
		return bluecore.RoleSlave
	case bluecore.RoleSlave:
		return bluecore.RoleMaster
	}
	return bluecore.RoleNone
}

// PairingState ...
func (d *Device) PairingState() bluecore.PairingState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pairing.state
}

// PairingMode ...
func (d *Device) PairingMode() bluecore.PairingMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pairing.mode
}

// LastSeen ...
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// RSSI ...
func (d *Device) RSSI() int8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

// applyReport folds a new advertising report into the record and returns the
// mask of changed fields. The last-discovery timestamp always advances.
func (d *Device) applyReport(rep *hcilink.Report, at time.Time) bluecore.EIRMask {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := rep.Diff(d.report)
	d.report = rep
	d.lastSeen = at
	d.rssi = rep.RSSI
	if rep.Name != "" {
		d.name = rep.Name
	}
	return changed
}

func (d *Device) setConnected(handle uint16, role bluecore.Role, origin connectOrigin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	d.ready = false
	d.handle = handle
	if role != bluecore.RoleNone {
		d.role = role
	}
	d.origin = origin
}

func (d *Device) setDisconnected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.ready = false
	d.handle = 0
	d.pairing.state = bluecore.PairingNone
	d.pairing.smpEvents = 0
	d.pairing.tickEvents = 0
	d.pairing.ticked = false
}

func (d *Device) setReady() {
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
}

func (d *Device) isReady() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// countSMPEvent marks observed SMP traffic for the pairing watchdog.
func (d *Device) countSMPEvent() {
	d.mu.Lock()
	d.pairing.smpEvents++
	d.mu.Unlock()
}

// stalledSinceLastTick reports whether the device sat in KEY_DISTRIBUTION
// with no SMP traffic since the previous watchdog tick, and advances the tick
// marker. The first tick of a key-distribution phase only takes the baseline;
// a stall needs two consecutive quiet ticks.
func (d *Device) stalledSinceLastTick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pairing.state != bluecore.PairingKeyDistribution {
		d.pairing.ticked = false
		return false
	}
	if !d.pairing.ticked {
		d.pairing.ticked = true
		d.pairing.tickEvents = d.pairing.smpEvents
		return false
	}
	stalled := d.pairing.smpEvents == d.pairing.tickEvents
	d.pairing.tickEvents = d.pairing.smpEvents
	return stalled
}

func (d *Device) irk() *smp.IdentityResolvingKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keys.irk
}
