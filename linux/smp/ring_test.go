package smp

import (
	"testing"
	"time"
)

func TestRingOrdering(t *testing.T) {
	r := NewReplyRing(4)
	r.Push(PDU{PairingConfirm, 1})
	r.Push(PDU{PairingRandom, 2})

	p, err := r.Poll(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Code() != PairingConfirm {
		t.Fatalf("first poll code %#x", p.Code())
	}
	p, err = r.Poll(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Code() != PairingRandom {
		t.Fatalf("second poll code %#x", p.Code())
	}
}

func TestRingOverflowDropsOldest(t *testing.T) {
	r := NewReplyRing(2)
	r.Push(PDU{PairingConfirm, 1})
	r.Push(PDU{PairingRandom, 2})
	r.Push(PDU{PairingFailed, 3}) // evicts the confirm

	if r.Len() != 2 {
		t.Fatalf("len %d", r.Len())
	}
	p, err := r.Poll(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Code() != PairingRandom {
		t.Fatalf("oldest survivor code %#x", p.Code())
	}
}

func TestRingPollTimeout(t *testing.T) {
	r := NewReplyRing(2)
	start := time.Now()
	if _, err := r.Poll(20 * time.Millisecond); err == nil {
		t.Fatal("empty poll returned without error")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("poll returned before the timeout")
	}
}

func TestRingPollWakesOnPush(t *testing.T) {
	r := NewReplyRing(2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Push(PDU{PairingConfirm, 1})
	}()
	p, err := r.Poll(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Code() != PairingConfirm {
		t.Fatalf("code %#x", p.Code())
	}
}

func TestRingClose(t *testing.T) {
	r := NewReplyRing(2)
	done := make(chan error, 1)
	go func() {
		_, err := r.Poll(time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("poll on closed ring returned a pdu")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not release the poller")
	}

	r.Push(PDU{PairingConfirm, 1})
	if r.Len() != 0 {
		t.Fatal("push accepted after close")
	}
}

func TestDispatcherRouting(t *testing.T) {
	var unsolicited []PDU
	d := NewDispatcher(func(p PDU) { unsolicited = append(unsolicited, p) }, 4)
	defer d.Close()

	if err := d.Handle([]byte{SecurityRequest, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err := d.Handle([]byte{PairingConfirm, 0xaa}); err != nil {
		t.Fatal(err)
	}
	if err := d.Handle([]byte{0xff}); err == nil {
		t.Fatal("unknown code accepted")
	}

	if len(unsolicited) != 1 || unsolicited[0].Code() != SecurityRequest {
		t.Fatalf("unsolicited: %v", unsolicited)
	}
	p, err := d.Replies().Poll(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.Code() != PairingConfirm {
		t.Fatalf("reply code %#x", p.Code())
	}
}
