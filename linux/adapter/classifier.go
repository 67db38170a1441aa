package adapter

import (
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/mgmt"
)

// HCI disconnect reason codes used when the adapter tears a link down.
const (
	hciReasonAuthFailure = 0x05
	hciReasonRemoteUser  = 0x13
)

func oppositeRole(r bluecore.Role) bluecore.Role {
	switch r {
	case bluecore.RoleMaster:
		return bluecore.RoleSlave
	case bluecore.RoleSlave:
		return bluecore.RoleMaster
	}
	return bluecore.RoleNone
}

// mgmtPump drains the management event channel until it closes or the
// adapter shuts down.
func (a *Adapter) mgmtPump(events <-chan mgmt.Event) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handleMgmtEvent(ev, time.Now())
		}
	}
}

// linkPump drains the link-control event channel.
func (a *Adapter) linkPump(events <-chan hcilink.Event) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handleLinkEvent(ev, time.Now())
		}
	}
}

func (a *Adapter) handleMgmtEvent(ev mgmt.Event, at time.Time) {
	switch e := ev.(type) {
	case mgmt.Discovering:
		a.handleDiscovering(e.Scan, e.Enabled, at)

	case mgmt.NewSettings:
		a.handleNewSettings(e.Settings, at)

	case mgmt.LocalNameChanged:
		a.mu.Lock()
		a.localName = e.Name
		a.mu.Unlock()

	case mgmt.DeviceFound:
		a.handleDeviceFound(hcilink.ParseEIR(e.ID, e.RSSI, e.EIR), at)

	case mgmt.DeviceConnected:
		// The management view carries no handle or role; the link-control
		// view fills those in when it arrives.
		a.handleConnected(e.ID, 0, bluecore.RoleNone, at)

	case mgmt.DeviceDisconnected:
		a.handleDisconnected(e.ID, 0, e.Reason, at)

	case mgmt.ConnectFailed:
		a.handleConnectFailed(e.ID, bluecore.StatusFailed, at)

	case mgmt.PinCodeRequest:
		a.handlePairingPrompt(e.ID, bluecore.PairingPasskeyExpected, bluecore.PairingModePasskeyEntry, at)

	case mgmt.UserConfirmRequest:
		a.handlePairingPrompt(e.ID, bluecore.PairingNumericCompareExpected, bluecore.PairingModeNumericCompare, at)

	case mgmt.UserPasskeyRequest:
		a.handlePairingPrompt(e.ID, bluecore.PairingPasskeyExpected, bluecore.PairingModePasskeyEntry, at)

	case mgmt.PasskeyNotify:
		a.handlePairingPrompt(e.ID, bluecore.PairingPasskeyNotify, bluecore.PairingModePasskeyEntry, at)

	case mgmt.AuthFailed:
		if d := a.reg.FindShared(e.ID); d != nil {
			a.failPairing(d, e.Status, at)
		}

	case mgmt.PairDeviceComplete:
		a.handlePairComplete(e.ID, e.Status, at)

	case mgmt.DeviceUnpaired:
		a.deleteKeys(e.ID)
		if d := a.reg.FindShared(e.ID); d != nil {
			a.resetPairing(d, at)
		}

	case mgmt.NewLongTermKey:
		a.handleDistributedKey(e.ID, at, func(d *Device) {
			k := e.Key
			d.mu.Lock()
			if k.Authenticated || d.keys.ltk == nil {
				d.keys.ltk = &k
			} else {
				d.keys.peerLTK = &k
			}
			d.mu.Unlock()
		})

	case mgmt.NewLinkKey:
		a.handleDistributedKey(e.ID, at, func(d *Device) {
			k := e.Key
			d.mu.Lock()
			d.keys.linkKey = &k
			d.mu.Unlock()
		})

	case mgmt.NewIdentityResolvingKey:
		a.handleDistributedKey(e.ID, at, func(d *Device) {
			k := e.Key
			d.mu.Lock()
			d.keys.irk = &k
			d.mu.Unlock()
		})

	case mgmt.NewSignatureResolvingKey:
		a.handleDistributedKey(e.ID, at, func(d *Device) {
			k := e.Key
			d.mu.Lock()
			d.keys.csrk = &k
			d.mu.Unlock()
		})

	default:
		logger.Debugf("adapter: unhandled mgmt event %T", ev)
	}
}

func (a *Adapter) handleLinkEvent(ev hcilink.Event, at time.Time) {
	switch e := ev.(type) {
	case hcilink.Discovering:
		a.handleDiscovering(e.Scan, e.Enabled, at)

	case hcilink.DeviceFound:
		a.handleDeviceFound(e.Report, at)

	case hcilink.DeviceConnected:
		a.handleConnected(e.ID, e.Handle, e.Role, at)

	case hcilink.DeviceDisconnected:
		a.handleDisconnected(e.ID, e.Handle, e.Reason, at)

	case hcilink.ConnectFailed:
		a.handleConnectFailed(e.ID, bluecore.StatusFailed, at)

	case hcilink.RemoteFeatures:
		a.handleLinkReady(e.Handle, e.Status == 0, at)

	case hcilink.PHYUpdateComplete:
		a.handleLinkReady(e.Handle, e.Status == 0, at)

	case hcilink.EncryptionChanged:
		a.handleEncryptionChanged(e.Handle, e.Status, e.Enabled, at)

	case hcilink.EncryptionKeyRefreshComplete:
		a.handleEncryptionChanged(e.Handle, e.Status, e.Status == 0, at)

	case hcilink.LongTermKeyRequest:
		a.handleLTKRequest(e.Handle, e.Rand, e.EDiv)

	case hcilink.SecurityPDU:
		a.handleSecurityPDU(e.Handle, e.Data, at)

	default:
		logger.Debugf("adapter: unhandled link event %T", ev)
	}
}

// handleDeviceFound runs the sighting through the classification table. The
// connected check comes first: advertising packets from a connected device
// (directed advertising, residual reports) never surface as discovery.
func (a *Adapter) handleDeviceFound(rep *hcilink.Report, at time.Time) {
	id := rep.ID
	if d := a.reg.FindConnected(id); d != nil {
		d.applyReport(rep, at)
		return
	}

	dDisc := a.reg.FindDiscovered(id)
	dShared := a.reg.FindShared(id)
	if dShared != nil && dDisc == nil {
		// FindShared may have resolved a private address; retry the
		// discovered lookup under the canonical identity.
		dDisc = a.reg.FindDiscovered(dShared.ID())
	}

	switch {
	case dDisc == nil && dShared == nil:
		// Brand new device.
		d := newDevice(id)
		d.applyReport(rep, at)
		a.reg.AddDiscovered(d)
		a.reg.AddShared(d)
		if !a.listeners.dispatchFound(d, at) {
			a.reg.RemoveShared(id)
		}

	case dDisc == nil && dShared != nil:
		// Known but not currently discovered: discovery restarted since
		// the last sighting. Offer it again.
		changed := dShared.applyReport(rep, at)
		a.reg.AddDiscovered(dShared)
		if a.listeners.dispatchFound(dShared, at) {
			if changed != 0 {
				a.listeners.dispatchUpdated(dShared, changed, at)
			}
		} else {
			a.reg.RemoveShared(dShared.ID())
		}

	case dDisc != nil && dShared == nil:
		// Sighted and previously declined. Re-offer only when the
		// advertised name changed; otherwise drop silently.
		if rep.Name == "" || rep.Name == dDisc.Name() {
			dDisc.applyReport(rep, at)
			return
		}
		dDisc.applyReport(rep, at)
		if a.listeners.dispatchFound(dDisc, at) {
			a.reg.AddShared(dDisc)
		}

	default:
		// Tracked in both lists: a plain re-sighting.
		changed := dDisc.applyReport(rep, at)
		if changed != 0 {
			a.listeners.dispatchUpdated(dDisc, changed, at)
		}
	}
}

// handleConnected folds a connection report from either source into the
// registries. The event is idempotent: the second source only contributes
// the handle and role when the first lacked them.
func (a *Adapter) handleConnected(id bluecore.DeviceID, handle uint16, localRole bluecore.Role, at time.Time) {
	if d := a.reg.FindConnected(id); d != nil {
		d.mu.Lock()
		if d.handle == 0 && handle != 0 {
			d.handle = handle
		}
		roleLearned := false
		if d.role == bluecore.RoleNone && localRole != bluecore.RoleNone {
			d.role = oppositeRole(localRole)
			roleLearned = true
		}
		d.mu.Unlock()
		if roleLearned {
			// The first source carried no role, so the role-dependent
			// security step was skipped. Run it now.
			a.clearStaleBond(d)
		}
		return
	}

	var d *Device
	origin := originNew
	if d = a.reg.FindDiscovered(id); d != nil {
		origin = originFromDiscovered
	} else if d = a.reg.FindShared(id); d != nil {
		origin = originFromShared
	} else {
		d = newDevice(id)
	}

	d.setConnected(handle, oppositeRole(localRole), origin)
	a.reg.AddConnected(d)
	a.reg.RemoveDiscovered(d.ID())
	logger.Debugf("adapter: %v connected (%v, handle=%#x)", d.ID(), origin, handle)

	a.gate.release(d)

	switch a.disc.Policy() {
	case bluecore.DiscoveryPauseConnectedUntilDisconnected,
		bluecore.DiscoveryPauseConnectedUntilReady,
		bluecore.DiscoveryPauseConnectedUntilPaired:
		a.reg.AddPausing(d.ID())
	}

	bin := a.findKeys(d.ID())
	if bin != nil {
		a.uploadKeys(d.ID(), bin)
		d.mu.Lock()
		d.pairing.mode = bluecore.PairingModePrePaired
		d.keys.irk = bin.IRK
		d.mu.Unlock()
	} else {
		a.clearStaleBond(d)
	}

	a.listeners.dispatchConnected(d, handle, at)
}

// clearStaleBond clears a stale kernel-side bond so a fresh pairing can start
// cleanly. Only inbound links from devices we hold no keys for qualify; the
// check is a no-op until the local role is known, and reruns when a late
// link event supplies it.
func (a *Adapter) clearStaleBond(d *Device) {
	if d.localRole() != bluecore.RoleSlave || d.PairingState() != bluecore.PairingNone {
		return
	}
	if a.findKeys(d.ID()) != nil {
		return
	}
	if st := a.mgmt.Unpair(d.ID(), false); !st.Ok() && st != bluecore.StatusInvalidParams {
		logger.Debugf("adapter: pre-pairing unpair of %v: %v", d.ID(), st)
	}
}

func (a *Adapter) handleDisconnected(id bluecore.DeviceID, handle uint16, reason byte, at time.Time) {
	d := a.reg.FindConnected(id)
	if d == nil {
		// Second source of a disconnect already processed, or a device we
		// never tracked.
		return
	}
	if handle == 0 {
		handle = d.Handle()
	}
	a.dropMonitor(handle)

	a.reg.RemoveConnected(d.ID())
	d.setDisconnected()
	a.gate.release(d)

	a.removePausing(d, bluecore.DiscoveryPauseConnectedUntilDisconnected)
	logger.Debugf("adapter: %v disconnected, reason=%#x", d.ID(), reason)
	a.listeners.dispatchDisconnected(d, reason, handle, at)
}

func (a *Adapter) handleConnectFailed(id bluecore.DeviceID, st bluecore.Status, at time.Time) {
	logger.Infof("adapter: connect to %v failed: %v", id, st)
	if d := a.reg.FindShared(id); d != nil {
		a.gate.release(d)
	}
	a.callErrHandler(errConnectFailed(id, st))
}

// handleDiscovering folds a native discovering transition into the
// coordinator and reports the resulting meta transition, if any.
func (a *Adapter) handleDiscovering(scan bluecore.ScanType, enabled bool, at time.Time) {
	meta, changed, retry := a.disc.applyNative(scan, enabled)
	if changed != 0 {
		a.listeners.dispatchDiscovering(meta, changed, enabled, a.disc.Policy(), at)
	}
	if retry {
		a.disc.ensureRetry()
	}
	a.disc.checkConsistency()
}

// injectDiscoveryStop delivers a locally generated discovering=false
// transition without touching the native scan state.
func (a *Adapter) injectDiscoveryStop() {
	meta, changed := a.disc.forceMetaOff()
	if changed != 0 {
		a.listeners.dispatchDiscovering(meta, changed, false, a.disc.Policy(), time.Now())
	}
}

func (a *Adapter) handleNewSettings(s bluecore.AdapterSetting, at time.Time) {
	a.mu.Lock()
	old := a.settings
	a.settings = s
	a.secureAuto = s.Has(bluecore.SettingSecureConn) && s.Has(bluecore.SettingBondable)
	a.mu.Unlock()

	if changed := old ^ s; changed != 0 {
		a.listeners.dispatchSettings(old, s, changed, at)
	}
}

func (a *Adapter) handlePairingPrompt(id bluecore.DeviceID, state bluecore.PairingState, mode bluecore.PairingMode, at time.Time) {
	d := a.reg.FindShared(id)
	if d == nil {
		logger.Warnf("adapter: pairing prompt for unknown device %v", id)
		return
	}
	d.countSMPEvent()
	a.transitionPairing(d, state, mode, at)
}

// handleDistributedKey stores newly distributed key material on the device
// and moves the handshake into key distribution.
func (a *Adapter) handleDistributedKey(id bluecore.DeviceID, at time.Time, store func(*Device)) {
	d := a.reg.FindShared(id)
	if d == nil {
		logger.Warnf("adapter: key distribution for unknown device %v", id)
		return
	}
	store(d)
	d.countSMPEvent()

	switch d.PairingState() {
	case bluecore.PairingCompleted, bluecore.PairingFailed, bluecore.PairingKeyDistribution:
		return
	}
	mode := d.PairingMode()
	if mode == bluecore.PairingModeNone {
		mode = bluecore.PairingModeJustWorks
	}
	a.transitionPairing(d, bluecore.PairingKeyDistribution, mode, at)
}

func (a *Adapter) handlePairComplete(id bluecore.DeviceID, status byte, at time.Time) {
	d := a.reg.FindShared(id)
	if d == nil {
		return
	}
	if status != 0 {
		a.failPairing(d, status, at)
		return
	}
	a.completePairing(d, at)
}

func (a *Adapter) handleEncryptionChanged(handle uint16, status byte, enabled bool, at time.Time) {
	d := a.findByHandle(handle)
	if d == nil {
		return
	}
	if status != 0 {
		a.failPairing(d, status, at)
		return
	}
	if !enabled {
		return
	}
	d.countSMPEvent()

	// Encryption coming up with stored keys and no handshake in flight is
	// a pre-paired completion.
	if d.PairingState() == bluecore.PairingNone && d.PairingMode() == bluecore.PairingModePrePaired {
		d.mu.Lock()
		d.pairing.mode = bluecore.PairingModePrePaired
		d.mu.Unlock()
		a.completePairing(d, at)
	}
}

// handleLTKRequest answers the controller's key request from the store.
func (a *Adapter) handleLTKRequest(handle uint16, rand uint64, ediv uint16) {
	d := a.findByHandle(handle)
	if d == nil {
		a.link.LongTermKeyNegativeReply(handle)
		return
	}
	d.countSMPEvent()

	if bin := a.findKeys(d.ID()); bin != nil && bin.LTK != nil && bin.LTK.Valid() {
		k := bin.LTK
		if (k.EDiv == ediv && k.Rand == rand) || (k.EDiv == 0 && k.Rand == 0) {
			if st := a.link.LongTermKeyReply(handle, k.Key); st.Ok() {
				return
			}
		}
	}
	d.mu.RLock()
	own := d.keys.ltk
	d.mu.RUnlock()
	if own != nil && own.Valid() && own.EDiv == ediv && own.Rand == rand {
		if st := a.link.LongTermKeyReply(handle, own.Key); st.Ok() {
			return
		}
	}
	a.link.LongTermKeyNegativeReply(handle)
}

// handleLinkReady marks post-connection negotiation progress; once the link
// is usable the UNTIL_READY pause is lifted.
func (a *Adapter) handleLinkReady(handle uint16, ok bool, at time.Time) {
	d := a.findByHandle(handle)
	if d == nil || !ok {
		return
	}
	d.setReady()
	a.removePausing(d, bluecore.DiscoveryPauseConnectedUntilReady)
}

func (a *Adapter) findByHandle(handle uint16) *Device {
	for _, d := range a.reg.Connected() {
		if d.Handle() == handle {
			return d
		}
	}
	return nil
}

// removePausing lifts the device's discovery pause when the coordinator's
// current policy matches the given trigger, then resumes scanning if nothing
// else keeps it paused. Under auto-off any trigger clears the entry: the
// policy flipped after StopDiscovery while the device was still pausing, and
// the deferred native disable is issued once the last pause is gone.
func (a *Adapter) removePausing(d *Device, trigger bluecore.DiscoveryPolicy) {
	policy := a.disc.Policy()
	if policy != trigger && policy != bluecore.DiscoveryAutoOff {
		return
	}
	if !a.reg.RemovePausing(d.ID()) {
		return
	}
	if policy == bluecore.DiscoveryAutoOff {
		if !a.reg.PausingPending() {
			a.disc.disableDeferred()
		}
		return
	}
	if a.disc.shouldResume() {
		a.disc.resume()
	}
}
