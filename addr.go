package bluecore

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr represents a Bluetooth device address (MAC on Linux).
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from a string such as "aa:bb:cc:dd:ee:ff".
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

// NewAddrFromBytes creates an Addr from 6 MSB-first bytes.
func NewAddrFromBytes(b []byte) Addr {
	ss := make([]string, 0, len(b))
	for _, bb := range b {
		ss = append(ss, hex.EncodeToString([]byte{bb}))
	}
	return addr(strings.Join(ss, ":"))
}

type addr string

func (a addr) String() string {
	return string(a)
}

// Bytes returns the address as 6 MSB-first bytes.
func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Errorf("error decoding address %v: %v", a.String(), err)
	}

	return out
}

// AddrType is the BLE address type carried next to every peer address.
type AddrType byte

// Address types per mgmt API / Core Spec Vol 3, Part C, 15.1.1
const (
	AddrTypePublic         AddrType = 0x00
	AddrTypeRandom         AddrType = 0x01
	AddrTypePublicIdentity AddrType = 0x02
	AddrTypeRandomIdentity AddrType = 0x03
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandom:
		return "random"
	case AddrTypePublicIdentity:
		return "public-identity"
	case AddrTypeRandomIdentity:
		return "random-identity"
	}
	return fmt.Sprintf("addrtype(%d)", byte(t))
}

// DeviceID is the immutable identity of a remote device: address plus address
// type. A device may additionally be visible under a resolvable private
// address; that alias lives on the device record, never here.
type DeviceID struct {
	Addr Addr
	Type AddrType
}

// NewDeviceID builds a DeviceID from an address string and type.
func NewDeviceID(s string, t AddrType) DeviceID {
	return DeviceID{Addr: NewAddr(s), Type: t}
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%s/%s", id.Addr.String(), id.Type.String())
}

// Equal reports whether two identities refer to the same address and type.
func (id DeviceID) Equal(o DeviceID) bool {
	if id.Addr == nil || o.Addr == nil {
		return id.Addr == nil && o.Addr == nil && id.Type == o.Type
	}
	return id.Type == o.Type && id.Addr.String() == o.Addr.String()
}

// Valid reports whether the identity carries a well-formed 6-byte address.
func (id DeviceID) Valid() bool {
	return id.Addr != nil && len(id.Addr.Bytes()) == 6
}

// Resolvable reports whether the address is a resolvable private address,
// i.e. a random address whose two most significant bits are 0b01.
func (id DeviceID) Resolvable() bool {
	if id.Type != AddrTypeRandom {
		return false
	}
	b := id.Addr.Bytes()
	return len(b) == 6 && b[0]&0xc0 == 0x40
}
