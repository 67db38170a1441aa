package adapter

import (
	"bytes"
	"testing"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/adapter/keystore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/mgmt"
	"github.com/seliot/bluecore/linux/smp"
)

func TestSecurityRequestEncryptsWithStoredKeys(t *testing.T) {
	a, _, fl := newTestAdapter(t)
	defer a.Close()
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	bin := keystore.NewKeyBin(a.LocalID(), d.ID())
	bin.LTK = &smp.LongTermKey{Key: [16]byte{6}, KeySize: 16, SecureConnections: true}
	if err := ks.Save(bin); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: []byte{smp.SecurityRequest, 0x01}}, time.Now())
	if fl.count("EnableEncryption") != 1 {
		t.Fatalf("EnableEncryption calls: %d", fl.count("EnableEncryption"))
	}
}

func TestSecurityRequestWithoutKeysStartsPairing(t *testing.T) {
	a, fm, fl := newTestAdapter(t)
	defer a.Close()

	connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: []byte{smp.SecurityRequest, 0x01}}, time.Now())

	if fm.count("PairDevice") != 1 {
		t.Fatalf("PairDevice calls: %d", fm.count("PairDevice"))
	}
	if fl.count("EnableEncryption") != 0 {
		t.Fatal("encrypted without a stored key")
	}
}

func TestPairingRequestRejectedWhenNotBondable(t *testing.T) {
	a, _, fl := newTestAdapter(t)
	defer a.Close()

	connectAsResponder(t, a, "11:22:33:44:55:66")
	req := []byte{smp.PairingRequest, 0x03, 0x00, 0x01, 0x10, 0x07, 0x07}
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: req}, time.Now())

	want := []byte{smp.PairingFailed, smp.ReasonPairingNotSupported}
	if got := fl.lastSentPDU(); !bytes.Equal(got, want) {
		t.Fatalf("sent pdu: %x", got)
	}

	// Once bondable, the kernel answers and we stay out of it.
	a.mu.Lock()
	a.settings |= bluecore.SettingBondable
	a.mu.Unlock()
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: req}, time.Now())
	if fl.count("SendSecurityPDU") != 1 {
		t.Fatalf("SendSecurityPDU calls: %d", fl.count("SendSecurityPDU"))
	}
}

func TestReplyTimeoutFailsStalledPairing(t *testing.T) {
	a, _, fl := newTestAdapter(t)
	a.smpReplyTimeout = 20 * time.Millisecond
	defer a.Close()

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleMgmtEvent(mgmt.NewLongTermKey{ID: d.ID(), Key: smp.LongTermKey{Key: [16]byte{7}, KeySize: 16, SecureConnections: true}}, time.Now())
	if d.PairingState() != bluecore.PairingKeyDistribution {
		t.Fatalf("state: %v", d.PairingState())
	}

	// One observed confirm, then silence past the reply window.
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: []byte{smp.PairingConfirm, 0x00}}, time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for d.PairingState() != bluecore.PairingFailed {
		if time.Now().After(deadline) {
			t.Fatalf("reply timeout never fired, state %v", d.PairingState())
		}
		time.Sleep(5 * time.Millisecond)
	}
	for fl.count("Disconnect") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stalled pairing did not tear the link down")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObservedFailurePDUFailsPairing(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	defer a.Close()

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID()}, time.Now())

	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: []byte{smp.PairingFailed, smp.ReasonConfirmValueFailed}}, time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for d.PairingState() != bluecore.PairingFailed {
		if time.Now().After(deadline) {
			t.Fatalf("failure pdu not folded in, state %v", d.PairingState())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObservedKeyPDUEntersDistribution(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	defer a.Close()

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: append([]byte{smp.EncryptionInformation}, make([]byte, 16)...)}, time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for d.PairingState() != bluecore.PairingKeyDistribution {
		if time.Now().After(deadline) {
			t.Fatalf("key pdu not folded in, state %v", d.PairingState())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorDroppedOnDisconnect(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	defer a.Close()

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleLinkEvent(hcilink.SecurityPDU{Handle: 0x40, Data: []byte{smp.SecurityRequest, 0x01}}, time.Now())

	a.muSec.Lock()
	n := len(a.sec)
	a.muSec.Unlock()
	if n != 1 {
		t.Fatalf("monitors after pdu: %d", n)
	}

	a.handleLinkEvent(hcilink.DeviceDisconnected{ID: d.ID(), Handle: 0x40, Reason: hciReasonRemoteUser}, time.Now())
	a.muSec.Lock()
	n = len(a.sec)
	a.muSec.Unlock()
	if n != 0 {
		t.Fatalf("monitors after disconnect: %d", n)
	}
}

func TestOOBPairingPersistsDerivedBond(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	defer a.Close()
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks

	id := testID(t, "11:22:33:44:55:66")
	local, err := a.StartOOB(id)
	if err != nil {
		t.Fatalf("StartOOB: %v", err)
	}

	peer, err := smp.NewOOBExchange()
	if err != nil {
		t.Fatalf("NewOOBExchange: %v", err)
	}
	pd, err := peer.Local()
	if err != nil {
		t.Fatalf("Local: %v", err)
	}

	if err := a.FinishOOB(id, pd, true); err != nil {
		t.Fatalf("FinishOOB: %v", err)
	}
	bin := ks.Find(id)
	if bin == nil {
		t.Fatal("no bond persisted")
	}
	if bin.SecLevel != bluecore.PairingModeOOB {
		t.Fatalf("persisted level: %v", bin.SecLevel)
	}
	if bin.LTK == nil || !bin.LTK.Valid() || !bin.LTK.SecureConnections {
		t.Fatalf("persisted LTK: %+v", bin.LTK)
	}
	if fm.count("UploadLongTermKey") != 1 {
		t.Fatalf("UploadLongTermKey calls: %d", fm.count("UploadLongTermKey"))
	}

	// The responder side must land on the same key.
	pk, err := peer.Complete(local, false, id, a.LocalID())
	if err != nil {
		t.Fatalf("peer Complete: %v", err)
	}
	if pk.Key != bin.LTK.Key {
		t.Fatal("peer derived a different key")
	}
}

func TestFinishOOBWithoutExchange(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	defer a.Close()

	id := testID(t, "11:22:33:44:55:66")
	a.reg.AddShared(newDevice(id))
	if err := a.FinishOOB(id, smp.OOBData{}, true); err == nil {
		t.Fatal("completed an exchange that never started")
	}
}
