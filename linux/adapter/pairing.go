package adapter

import (
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/adapter/keystore"
	"github.com/seliot/bluecore/linux/smp"
)

// legalPairingTransition encodes which state changes the machine accepts.
// Terminal states only step back to NONE; NONE jumping straight to COMPLETED
// is allowed for pre-paired devices that go encrypted without a fresh
// handshake. Same-state transitions are dropped by the caller.
func legalPairingTransition(from, to bluecore.PairingState) bool {
	if from == to {
		return false
	}
	switch from {
	case bluecore.PairingCompleted, bluecore.PairingFailed:
		return to == bluecore.PairingNone
	}
	return true
}

// transitionPairing moves the device to the given state, updating the mode
// when one is supplied, and notifies listeners. Illegal and same-state
// transitions are dropped, the former with a warning.
func (a *Adapter) transitionPairing(d *Device, to bluecore.PairingState, mode bluecore.PairingMode, at time.Time) bool {
	d.mu.Lock()
	from := d.pairing.state
	if from == to {
		d.mu.Unlock()
		return false
	}
	if !legalPairingTransition(from, to) {
		d.mu.Unlock()
		logger.Warnf("pairing: dropping illegal transition %v -> %v for %v", from, to, d.ID())
		return false
	}
	d.pairing.state = to
	if mode != bluecore.PairingModeNone {
		d.pairing.mode = mode
	}
	mode = d.pairing.mode
	d.mu.Unlock()

	a.listeners.dispatchPairingState(d, to, mode, at)
	return true
}

// resetPairing returns the security sub-record to NONE, legal from any
// state. Listeners are only told when the state actually changed.
func (a *Adapter) resetPairing(d *Device, at time.Time) {
	d.mu.Lock()
	changed := d.pairing.state != bluecore.PairingNone
	d.pairing.state = bluecore.PairingNone
	d.pairing.mode = bluecore.PairingModeNone
	d.keys = deviceKeys{}
	d.mu.Unlock()

	if changed {
		a.listeners.dispatchPairingState(d, bluecore.PairingNone, bluecore.PairingModeNone, at)
	}
}

// completePairing handles the COMPLETED transition. Freshly negotiated modes
// persist the accumulated key material when we acted as the security
// responder; pre-paired completions re-apply the stored bundle instead.
func (a *Adapter) completePairing(d *Device, at time.Time) {
	d.mu.Lock()
	mode := d.pairing.mode
	if mode == bluecore.PairingModeNone {
		mode = bluecore.PairingModeJustWorks
		d.pairing.mode = mode
	}
	keys := d.keys
	ioCap := d.pairing.ioCap
	d.mu.Unlock()

	if !a.transitionPairing(d, bluecore.PairingCompleted, mode, at) {
		return
	}

	if mode.Fresh() {
		if d.localRole() == bluecore.RoleSlave {
			a.persistKeys(d, mode, ioCap, keys)
		}
		a.removePausing(d, bluecore.DiscoveryPauseConnectedUntilPaired)
		return
	}

	// Pre-paired: push the stored bundle back down so the controller can
	// encrypt with it.
	if bin := a.findKeys(d.ID()); bin != nil {
		a.uploadKeys(d.ID(), bin)
	}
	a.removePausing(d, bluecore.DiscoveryPauseConnectedUntilPaired)
}

// failPairing handles the FAILED transition: any stored bundle for the
// device is dropped, and unless the kernel negotiates security on its own
// the link is torn down asynchronously.
func (a *Adapter) failPairing(d *Device, reason byte, at time.Time) {
	if !a.transitionPairing(d, bluecore.PairingFailed, bluecore.PairingModeNone, at) {
		return
	}
	logger.Infof("pairing: %v failed: %s", d.ID(), smp.ReasonString(reason))

	a.deleteKeys(d.ID())
	a.removePausing(d, bluecore.DiscoveryPauseConnectedUntilPaired)

	a.mu.Lock()
	auto := a.secureAuto
	a.mu.Unlock()
	if auto {
		return
	}
	go func() {
		if h := d.Handle(); h != 0 && d.Connected() {
			if st := a.link.Disconnect(h, hciReasonAuthFailure); !st.Ok() {
				logger.Warnf("pairing: post-failure disconnect of %v: %v", d.ID(), st)
			}
		}
	}()
}

func (a *Adapter) persistKeys(d *Device, mode bluecore.PairingMode, ioCap bluecore.IOCapability, keys deviceKeys) {
	if a.keys == nil {
		return
	}
	bin := keystore.NewKeyBin(a.localID, d.ID())
	bin.SecLevel = mode
	bin.IOCap = ioCap
	bin.LTK = keys.ltk
	bin.PeerLTK = keys.peerLTK
	bin.IRK = keys.irk
	bin.CSRK = keys.csrk
	bin.LinkKey = keys.linkKey
	if err := a.keys.Save(bin); err != nil {
		logger.Errorf("pairing: persisting keys for %v: %v", d.ID(), err)
	}
}

func (a *Adapter) findKeys(id bluecore.DeviceID) *keystore.KeyBin {
	if a.keys == nil {
		return nil
	}
	return a.keys.Find(id)
}

func (a *Adapter) deleteKeys(id bluecore.DeviceID) {
	if a.keys != nil {
		a.keys.Delete(id)
	}
}

// uploadKeys pushes a stored bundle down to the kernel.
func (a *Adapter) uploadKeys(id bluecore.DeviceID, bin *keystore.KeyBin) {
	if bin.LTK != nil && bin.LTK.Valid() {
		if st := a.mgmt.UploadLongTermKey(id, *bin.LTK); !st.Ok() {
			logger.Warnf("pairing: LTK upload for %v: %v", id, st)
		}
	}
	if bin.PeerLTK != nil && bin.PeerLTK.Valid() {
		if st := a.mgmt.UploadLongTermKey(id, *bin.PeerLTK); !st.Ok() {
			logger.Warnf("pairing: peer LTK upload for %v: %v", id, st)
		}
	}
	if bin.IRK != nil && bin.IRK.Valid() {
		if st := a.mgmt.UploadIdentityResolvingKey(id, *bin.IRK); !st.Ok() {
			logger.Warnf("pairing: IRK upload for %v: %v", id, st)
		}
	}
	if bin.LinkKey != nil {
		if st := a.mgmt.UploadLinkKey(id, *bin.LinkKey); !st.Ok() {
			logger.Warnf("pairing: link key upload for %v: %v", id, st)
		}
	}
}

// watchdog injects a synthetic pairing failure for devices stuck in key
// distribution with no SMP traffic between two consecutive ticks.
func (a *Adapter) watchdogLoop(period time.Duration) {
	defer a.wg.Done()

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-t.C:
		}
		for _, d := range a.reg.Connected() {
			if d.stalledSinceLastTick() {
				logger.Warnf("pairing: watchdog timeout for %v, injecting failure", d.ID())
				a.failPairing(d, smp.ReasonUnspecified, time.Now())
			}
		}
	}
}
