package adapter

import (
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// securityMonitor observes the raw SMP channel of one link. The kernel owns
// the handshake; the monitor answers security requests, feeds the pairing
// watchdog and enforces the reply-wait timeout.
type securityMonitor struct {
	handle uint16
	d      *Device
	disp   *smp.Dispatcher
}

func (a *Adapter) handleSecurityPDU(handle uint16, data []byte, at time.Time) {
	d := a.findByHandle(handle)
	if d == nil {
		logger.Debugf("adapter: smp pdu on unknown handle %#x", handle)
		return
	}
	d.countSMPEvent()
	m := a.monitor(handle, d)
	if err := m.disp.Handle(data); err != nil {
		logger.Warnf("adapter: smp pdu on handle %#x: %v", handle, err)
	}
}

// monitor returns the link's security monitor, creating it and its reply
// consumer on first use.
func (a *Adapter) monitor(handle uint16, d *Device) *securityMonitor {
	a.muSec.Lock()
	defer a.muSec.Unlock()
	if m, ok := a.sec[handle]; ok {
		return m
	}
	m := &securityMonitor{handle: handle, d: d}
	m.disp = smp.NewDispatcher(func(p smp.PDU) { a.handleUnsolicited(m, p) }, 8)
	a.sec[handle] = m
	a.secWG.Add(1)
	go a.replyLoop(m)
	return m
}

func (a *Adapter) dropMonitor(handle uint16) {
	a.muSec.Lock()
	m, ok := a.sec[handle]
	delete(a.sec, handle)
	a.muSec.Unlock()
	if ok {
		m.disp.Close()
	}
}

func (a *Adapter) closeMonitors() {
	a.muSec.Lock()
	ms := make([]*securityMonitor, 0, len(a.sec))
	for _, m := range a.sec {
		ms = append(ms, m)
	}
	a.sec = make(map[uint16]*securityMonitor)
	a.muSec.Unlock()

	for _, m := range ms {
		m.disp.Close()
	}
	a.secWG.Wait()
}

// handleUnsolicited reacts to exchange-opening PDUs from the peer.
func (a *Adapter) handleUnsolicited(m *securityMonitor, p smp.PDU) {
	switch p.Code() {
	case smp.SecurityRequest:
		// The peripheral asks for security: encrypt with stored keys when
		// we have them, otherwise start a fresh pairing.
		if bin := a.findKeys(m.d.ID()); bin != nil && bin.LTK != nil && bin.LTK.Valid() {
			if st := a.link.EnableEncryption(m.handle, *bin.LTK); !st.Ok() {
				logger.Warnf("adapter: encrypt on security request of %v: %v", m.d.ID(), st)
			}
			return
		}
		if st := a.mgmt.PairDevice(m.d.ID(), a.ioCap); !st.Ok() {
			logger.Warnf("adapter: pairing on security request of %v: %v", m.d.ID(), st)
		}

	case smp.PairingRequest:
		// The kernel answers when the adapter is bondable. Otherwise reject
		// right away so the peer does not sit out the protocol timeout.
		a.mu.Lock()
		bondable := a.settings.Has(bluecore.SettingBondable)
		a.mu.Unlock()
		if !bondable {
			if st := a.link.SendSecurityPDU(m.handle, []byte{smp.PairingFailed, smp.ReasonPairingNotSupported}); !st.Ok() {
				logger.Warnf("adapter: rejecting pairing request of %v: %v", m.d.ID(), st)
			}
		}
	}
}

// replyLoop consumes solicited replies for one link. A reply-wait timeout in
// the middle of a handshake fails the pairing and tears the link down.
func (a *Adapter) replyLoop(m *securityMonitor) {
	defer a.secWG.Done()
	for {
		p, err := m.disp.Replies().Poll(a.smpReplyTimeout)
		if err == smp.ErrClosed {
			return
		}
		if err != nil {
			if m.d.PairingState().InProgress() {
				logger.Warnf("pairing: reply wait for %v timed out", m.d.ID())
				a.failPairing(m.d, smp.ReasonUnspecified, time.Now())
			}
			continue
		}
		a.observeReply(m, p)
	}
}

// observeReply folds one observed handshake PDU into the device record. The
// decoded key material itself arrives through the management channel; this
// only keeps the state machine and the watchdog counters moving.
func (a *Adapter) observeReply(m *securityMonitor, p smp.PDU) {
	switch p.Code() {
	case smp.PairingFailed:
		if pl := p.Payload(); len(pl) > 0 {
			a.failPairing(m.d, pl[0], time.Now())
		}

	case smp.EncryptionInformation, smp.MasterIdentification,
		smp.IdentityInformation, smp.IdentityAddrInformation,
		smp.SigningInformation:
		st := m.d.PairingState()
		if st == bluecore.PairingKeyDistribution || st.Terminal() {
			return
		}
		mode := m.d.PairingMode()
		if mode == bluecore.PairingModeNone {
			mode = bluecore.PairingModeJustWorks
		}
		a.transitionPairing(m.d, bluecore.PairingKeyDistribution, mode, time.Now())

	default:
		logger.Debugf("adapter: observed smp pdu %s from %v", p, m.d.ID())
	}
}
