package adapter

import (
	"testing"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/adapter/keystore"
	"github.com/seliot/bluecore/linux/hcilink"
	"github.com/seliot/bluecore/linux/mgmt"
	"github.com/seliot/bluecore/linux/smp"
)

func TestLegalPairingTransitions(t *testing.T) {
	cases := []struct {
		from, to bluecore.PairingState
		want     bool
	}{
		{bluecore.PairingNone, bluecore.PairingNumericCompareExpected, true},
		{bluecore.PairingNone, bluecore.PairingCompleted, true}, // pre-paired
		{bluecore.PairingNumericCompareExpected, bluecore.PairingKeyDistribution, true},
		{bluecore.PairingKeyDistribution, bluecore.PairingCompleted, true},
		{bluecore.PairingKeyDistribution, bluecore.PairingFailed, true},
		{bluecore.PairingKeyDistribution, bluecore.PairingNone, true},
		{bluecore.PairingCompleted, bluecore.PairingNone, true},
		{bluecore.PairingFailed, bluecore.PairingNone, true},
		{bluecore.PairingCompleted, bluecore.PairingKeyDistribution, false},
		{bluecore.PairingCompleted, bluecore.PairingFailed, false},
		{bluecore.PairingFailed, bluecore.PairingKeyDistribution, false},
		{bluecore.PairingFailed, bluecore.PairingCompleted, false},
		{bluecore.PairingCompleted, bluecore.PairingCompleted, false},
	}
	for _, c := range cases {
		if got := legalPairingTransition(c.from, c.to); got != c.want {
			t.Errorf("%v -> %v: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

// connectAsResponder wires a device up as an inbound link where the local
// side acts as the security responder.
func connectAsResponder(t *testing.T, a *Adapter, addr string) *Device {
	t.Helper()
	id := testID(t, addr)
	a.handleLinkEvent(hcilink.DeviceConnected{ID: id, Handle: 0x40, Role: bluecore.RoleSlave}, time.Now())
	d := a.reg.FindConnected(id)
	if d == nil {
		t.Fatal("device not connected")
	}
	return d
}

func TestPairingPromptTransitions(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	l := &recordingListener{accept: true}
	a.AddListener(l)
	d := connectAsResponder(t, a, "11:22:33:44:55:66")

	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID(), Value: 123456}, time.Now())
	if d.PairingState() != bluecore.PairingNumericCompareExpected {
		t.Fatalf("state: %v", d.PairingState())
	}
	if d.PairingMode() != bluecore.PairingModeNumericCompare {
		t.Fatalf("mode: %v", d.PairingMode())
	}
	if got := l.pairingStates(); len(got) != 1 || got[0] != bluecore.PairingNumericCompareExpected {
		t.Fatalf("dispatched states: %v", got)
	}
}

func TestFreshPairingPersistsKeys(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks
	l := &recordingListener{accept: true}
	a.AddListener(l)

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	// fakeMgmt clears the stale bond on inbound links; ignore that call.
	_ = fm

	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID()}, time.Now())
	a.handleMgmtEvent(mgmt.NewLongTermKey{
		Store: true,
		ID:    d.ID(),
		Key:   smp.LongTermKey{Key: [16]byte{1}, KeySize: 16, Authenticated: true, SecureConnections: true},
	}, time.Now())
	if d.PairingState() != bluecore.PairingKeyDistribution {
		t.Fatalf("state after key event: %v", d.PairingState())
	}

	a.handleMgmtEvent(mgmt.PairDeviceComplete{ID: d.ID()}, time.Now())
	if d.PairingState() != bluecore.PairingCompleted {
		t.Fatalf("state: %v", d.PairingState())
	}
	if d.PairingMode() != bluecore.PairingModeNumericCompare {
		t.Fatalf("mode: %v", d.PairingMode())
	}

	bin := ks.Find(d.ID())
	if bin == nil {
		t.Fatal("no key bin persisted")
	}
	if bin.LTK == nil || bin.LTK.Key != ([16]byte{1}) {
		t.Fatal("persisted bin lacks the distributed LTK")
	}
	if bin.SecLevel != bluecore.PairingModeNumericCompare {
		t.Fatalf("persisted level: %v", bin.SecLevel)
	}
}

func TestFailedPairingDropsKeysAndDisconnects(t *testing.T) {
	a, _, fl := newTestAdapter(t)
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks
	l := &recordingListener{accept: true}
	a.AddListener(l)

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	bin := keystore.NewKeyBin(a.LocalID(), d.ID())
	bin.LTK = &smp.LongTermKey{Key: [16]byte{2}, KeySize: 16, SecureConnections: true}
	if err := ks.Save(bin); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID()}, time.Now())
	a.handleMgmtEvent(mgmt.AuthFailed{ID: d.ID(), Status: smp.ReasonConfirmValueFailed}, time.Now())

	if d.PairingState() != bluecore.PairingFailed {
		t.Fatalf("state: %v", d.PairingState())
	}
	if ks.Find(d.ID()) != nil {
		t.Fatal("stored keys survived the failed pairing")
	}

	deadline := time.Now().Add(time.Second)
	for fl.count("Disconnect") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed pairing did not tear the link down")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrePairedCompletionOnEncryption(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks

	id := testID(t, "11:22:33:44:55:66")
	bin := keystore.NewKeyBin(a.LocalID(), id)
	bin.SecLevel = bluecore.PairingModeJustWorks
	bin.LTK = &smp.LongTermKey{Key: [16]byte{3}, KeySize: 16, SecureConnections: true}
	if err := ks.Save(bin); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l := &recordingListener{accept: true}
	a.AddListener(l)

	a.handleLinkEvent(hcilink.DeviceConnected{ID: id, Handle: 0x40, Role: bluecore.RoleSlave}, time.Now())
	d := a.reg.FindConnected(id)
	if d == nil {
		t.Fatal("device not connected")
	}
	if fm.count("UploadLongTermKey") == 0 {
		t.Fatal("stored keys not uploaded at connection")
	}
	if d.PairingMode() != bluecore.PairingModePrePaired {
		t.Fatalf("mode after connect: %v", d.PairingMode())
	}

	a.handleLinkEvent(hcilink.EncryptionChanged{Handle: 0x40, Enabled: true}, time.Now())
	if d.PairingState() != bluecore.PairingCompleted {
		t.Fatalf("state: %v", d.PairingState())
	}
	if got := l.pairingStates(); len(got) == 0 || got[len(got)-1] != bluecore.PairingCompleted {
		t.Fatalf("dispatched states: %v", got)
	}
}

func TestIllegalTransitionDropped(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	l := &recordingListener{accept: true}
	a.AddListener(l)
	d := connectAsResponder(t, a, "11:22:33:44:55:66")

	a.handleMgmtEvent(mgmt.PairDeviceComplete{ID: d.ID()}, time.Now())
	if d.PairingState() != bluecore.PairingCompleted {
		t.Fatalf("state: %v", d.PairingState())
	}
	before := len(l.pairingStates())

	// A late prompt after completion must not reopen the handshake.
	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID()}, time.Now())
	if d.PairingState() != bluecore.PairingCompleted {
		t.Fatalf("terminal state lost: %v", d.PairingState())
	}
	if len(l.pairingStates()) != before {
		t.Fatal("illegal transition dispatched")
	}
}

func TestDisconnectResetsPairingState(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	d := connectAsResponder(t, a, "11:22:33:44:55:66")

	a.handleMgmtEvent(mgmt.UserConfirmRequest{ID: d.ID()}, time.Now())
	a.handleLinkEvent(hcilink.DeviceDisconnected{ID: d.ID(), Handle: 0x40, Reason: 0x13}, time.Now())

	if d.PairingState() != bluecore.PairingNone {
		t.Fatalf("state after disconnect: %v", d.PairingState())
	}
}

func TestWatchdogFailsStalledHandshake(t *testing.T) {
	a, _, fl := newTestAdapter(t, bluecore.OptPairingWatchdogPeriod(20*time.Millisecond))
	if err := a.Start(make(chan mgmt.Event), make(chan hcilink.Event)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Close()

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	a.handleMgmtEvent(mgmt.NewLongTermKey{ID: d.ID(), Key: smp.LongTermKey{Key: [16]byte{4}, KeySize: 16, SecureConnections: true}}, time.Now())
	if d.PairingState() != bluecore.PairingKeyDistribution {
		t.Fatalf("state: %v", d.PairingState())
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.PairingState() != bluecore.PairingFailed {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog never fired, state %v", d.PairingState())
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = fl
}

func TestWatchdogSparesActiveHandshake(t *testing.T) {
	d := newDevice(bluecore.NewDeviceID("11:22:33:44:55:66", bluecore.AddrTypePublic))
	d.mu.Lock()
	d.pairing.state = bluecore.PairingKeyDistribution
	d.mu.Unlock()

	// First tick establishes the baseline.
	if d.stalledSinceLastTick() {
		t.Fatal("stalled on the baseline tick")
	}
	d.countSMPEvent()
	if d.stalledSinceLastTick() {
		t.Fatal("stalled despite fresh traffic")
	}
	if !d.stalledSinceLastTick() {
		t.Fatal("quiet interval not flagged")
	}
}

func TestUnpairClearsEverything(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	ks, err := keystore.Open(t.TempDir(), a.LocalID())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	a.keys = ks

	d := connectAsResponder(t, a, "11:22:33:44:55:66")
	bin := keystore.NewKeyBin(a.LocalID(), d.ID())
	bin.LTK = &smp.LongTermKey{Key: [16]byte{5}, KeySize: 16, SecureConnections: true}
	if err := ks.Save(bin); err != nil {
		t.Fatalf("Save: %v", err)
	}
	a.handleMgmtEvent(mgmt.PairDeviceComplete{ID: d.ID()}, time.Now())

	if st := a.Unpair(d.ID()); st != bluecore.StatusSuccess {
		t.Fatalf("Unpair: %v", st)
	}
	if fm.count("Unpair") == 0 {
		t.Fatal("kernel unpair not issued")
	}
	if ks.Find(d.ID()) != nil {
		t.Fatal("persisted keys survived Unpair")
	}
	if d.PairingState() != bluecore.PairingNone {
		t.Fatalf("state after Unpair: %v", d.PairingState())
	}
}
