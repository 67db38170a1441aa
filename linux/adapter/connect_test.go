package adapter

import (
	"testing"
	"time"

	"github.com/seliot/bluecore"
)

func TestGateSingleSlot(t *testing.T) {
	g := newConnectionGate(time.Second, bluecore.IOCapNoInputNoOutput, nil)
	a := newDevice(testID(t, "11:22:33:44:55:66"))
	b := newDevice(testID(t, "66:55:44:33:22:11"))

	if st := g.acquire(a, false, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusSuccess {
		t.Fatalf("first acquire: %v", st)
	}
	if st := g.acquire(a, false, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusSuccess {
		t.Fatalf("re-acquire by holder: %v", st)
	}
	if st := g.acquire(b, false, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusBusy {
		t.Fatalf("acquire while busy: got %v, want busy", st)
	}

	g.release(b) // not the holder, must be a no-op
	if st := g.acquire(b, false, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusBusy {
		t.Fatalf("slot freed by non-holder release: %v", st)
	}

	g.release(a)
	if st := g.acquire(b, false, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusSuccess {
		t.Fatalf("acquire after release: %v", st)
	}
}

func TestGateAppliesAndRestoresIOCapability(t *testing.T) {
	var calls []bluecore.IOCapability
	g := newConnectionGate(time.Second, bluecore.IOCapNoInputNoOutput, func(c bluecore.IOCapability) bluecore.Status {
		calls = append(calls, c)
		return bluecore.StatusSuccess
	})
	a := newDevice(testID(t, "11:22:33:44:55:66"))

	g.acquire(a, false, bluecore.IOCapKeyboardDisplay)
	if len(calls) != 1 || calls[0] != bluecore.IOCapKeyboardDisplay {
		t.Fatalf("override not applied: %v", calls)
	}
	g.release(a)
	if len(calls) != 2 || calls[1] != bluecore.IOCapNoInputNoOutput {
		t.Fatalf("default not restored: %v", calls)
	}

	// acquiring with the default issues no capability command at all
	g.acquire(a, false, bluecore.IOCapNoInputNoOutput)
	g.release(a)
	if len(calls) != 2 {
		t.Fatalf("unexpected capability calls: %v", calls)
	}
}

func TestGateWaitTimesOut(t *testing.T) {
	g := newConnectionGate(50*time.Millisecond, bluecore.IOCapNoInputNoOutput, nil)
	a := newDevice(testID(t, "11:22:33:44:55:66"))
	b := newDevice(testID(t, "66:55:44:33:22:11"))

	g.acquire(a, false, bluecore.IOCapNoInputNoOutput)
	start := time.Now()
	if st := g.acquire(b, true, bluecore.IOCapNoInputNoOutput); st != bluecore.StatusTimeout {
		t.Fatalf("blocked acquire: got %v, want timeout", st)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("timeout fired too early")
	}
}

func TestGateReleaseWakesWaiter(t *testing.T) {
	g := newConnectionGate(time.Second, bluecore.IOCapNoInputNoOutput, nil)
	a := newDevice(testID(t, "11:22:33:44:55:66"))
	b := newDevice(testID(t, "66:55:44:33:22:11"))

	g.acquire(a, false, bluecore.IOCapNoInputNoOutput)
	got := make(chan bluecore.Status, 1)
	go func() { got <- g.acquire(b, true, bluecore.IOCapNoInputNoOutput) }()

	time.Sleep(20 * time.Millisecond)
	g.release(a)

	select {
	case st := <-got:
		if st != bluecore.StatusSuccess {
			t.Fatalf("waiter got %v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by release")
	}
	if g.holderDevice() != b {
		t.Fatal("waiter did not take the slot")
	}
}

func TestGateCloseUnblocksWaiters(t *testing.T) {
	g := newConnectionGate(time.Second, bluecore.IOCapNoInputNoOutput, nil)
	a := newDevice(testID(t, "11:22:33:44:55:66"))
	b := newDevice(testID(t, "66:55:44:33:22:11"))

	g.acquire(a, false, bluecore.IOCapNoInputNoOutput)
	got := make(chan bluecore.Status, 1)
	go func() { got <- g.acquire(b, true, bluecore.IOCapNoInputNoOutput) }()

	time.Sleep(20 * time.Millisecond)
	g.close()

	select {
	case st := <-got:
		if st != bluecore.StatusClosed {
			t.Fatalf("waiter got %v, want closed", st)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released on close")
	}
}

func TestConnectIssuesAllowListEntry(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	id := testID(t, "11:22:33:44:55:66")

	if st := a.Connect(id, false); st != bluecore.StatusSuccess {
		t.Fatalf("Connect: %v", st)
	}
	if fm.count("AddToAllowList") != 1 {
		t.Fatal("AddToAllowList not issued")
	}
	if a.gate.holderDevice() == nil {
		t.Fatal("connect slot not held while pending")
	}

	// A second target cannot start while the first is pending.
	if st := a.Connect(testID(t, "66:55:44:33:22:11"), false); st != bluecore.StatusBusy {
		t.Fatalf("second Connect: got %v, want busy", st)
	}
}

func TestConnectInvalidAddress(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if st := a.Connect(bluecore.DeviceID{}, false); st != bluecore.StatusInvalidParams {
		t.Fatalf("got %v, want invalid params", st)
	}
}

func TestConnectReleasesSlotOnCommandFailure(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	fm.allowStatus = bluecore.StatusRejected

	if st := a.Connect(testID(t, "11:22:33:44:55:66"), false); st != bluecore.StatusRejected {
		t.Fatalf("Connect: %v", st)
	}
	if a.gate.holderDevice() != nil {
		t.Fatal("slot leaked after rejected command")
	}
}

func TestConnectedEventReleasesSlot(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	id := testID(t, "11:22:33:44:55:66")

	a.Connect(id, false)
	a.handleConnected(id, 0x40, bluecore.RoleMaster, time.Now())

	if a.gate.holderDevice() != nil {
		t.Fatal("slot still held after connected event")
	}
	if a.reg.FindConnected(id) == nil {
		t.Fatal("device not in connected registry")
	}
}

func TestConnectToConnectedDeviceIsIdempotent(t *testing.T) {
	a, fm, _ := newTestAdapter(t)
	id := testID(t, "11:22:33:44:55:66")

	a.handleConnected(id, 0x40, bluecore.RoleMaster, time.Now())
	if st := a.Connect(id, false); st != bluecore.StatusSuccess {
		t.Fatalf("Connect on connected device: %v", st)
	}
	if fm.count("AddToAllowList") != 0 {
		t.Fatal("command issued for already connected device")
	}
}

func TestDisconnectRequiresConnection(t *testing.T) {
	a, _, fl := newTestAdapter(t)
	id := testID(t, "11:22:33:44:55:66")

	if st := a.Disconnect(id, 0); st != bluecore.StatusNotConnected {
		t.Fatalf("Disconnect unknown: %v", st)
	}

	a.handleConnected(id, 0x40, bluecore.RoleMaster, time.Now())
	if st := a.Disconnect(id, 0); st != bluecore.StatusSuccess {
		t.Fatalf("Disconnect: %v", st)
	}
	if fl.count("Disconnect") != 1 {
		t.Fatal("link disconnect not issued")
	}
}
