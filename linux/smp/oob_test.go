package smp

import (
	"testing"

	"github.com/seliot/bluecore"
)

func TestOOBExchangeDerivesMatchingKeys(t *testing.T) {
	la := bluecore.NewDeviceID("00:1A:7D:DA:71:13", bluecore.AddrTypePublic)
	lb := bluecore.NewDeviceID("11:22:33:44:55:66", bluecore.AddrTypePublic)

	xa, err := NewOOBExchange()
	if err != nil {
		t.Fatal(err)
	}
	xb, err := NewOOBExchange()
	if err != nil {
		t.Fatal(err)
	}

	da, err := xa.Local()
	if err != nil {
		t.Fatal(err)
	}
	db, err := xb.Local()
	if err != nil {
		t.Fatal(err)
	}

	ka, err := xa.Complete(db, true, la, lb)
	if err != nil {
		t.Fatalf("initiator complete: %v", err)
	}
	kb, err := xb.Complete(da, false, lb, la)
	if err != nil {
		t.Fatalf("responder complete: %v", err)
	}

	if !ka.Valid() || !ka.SecureConnections {
		t.Fatalf("derived key not usable: %+v", ka)
	}
	if ka.Key != kb.Key {
		t.Fatal("sides derived different long-term keys")
	}
}

func TestOOBExchangeRejectsTamperedConfirm(t *testing.T) {
	la := bluecore.NewDeviceID("00:1A:7D:DA:71:13", bluecore.AddrTypePublic)
	lb := bluecore.NewDeviceID("11:22:33:44:55:66", bluecore.AddrTypePublic)

	xa, err := NewOOBExchange()
	if err != nil {
		t.Fatal(err)
	}
	xb, err := NewOOBExchange()
	if err != nil {
		t.Fatal(err)
	}

	db, err := xb.Local()
	if err != nil {
		t.Fatal(err)
	}
	db.Confirm[0] ^= 0xff

	if _, err := xa.Complete(db, true, la, lb); err == nil {
		t.Fatal("tampered commitment accepted")
	}
}
