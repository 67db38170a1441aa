package smp

import (
	"github.com/seliot/bluecore"
)

// LongTermKey is the SMP-distributed encryption key for one link direction.
type LongTermKey struct {
	Key               [16]byte `json:"key"`
	EDiv              uint16   `json:"ediv"`
	Rand              uint64   `json:"rand"`
	KeySize           uint8    `json:"keySize"`
	Authenticated     bool     `json:"authenticated"`
	SecureConnections bool     `json:"secureConnections"`
}

// Valid reports whether the key material is usable. Secure-connections keys
// carry zero EDiv/Rand; legacy keys must not.
func (k LongTermKey) Valid() bool {
	if k.Key == ([16]byte{}) {
		return false
	}
	if k.KeySize != 0 && (k.KeySize < 7 || k.KeySize > 16) {
		return false
	}
	return true
}

// IdentityResolvingKey resolves a peer's resolvable private addresses back to
// its identity address.
type IdentityResolvingKey struct {
	Key      [16]byte          `json:"key"`
	Identity bluecore.DeviceID `json:"-"`

	IdentityAddr string            `json:"identityAddr"`
	IdentityType bluecore.AddrType `json:"identityType"`
}

// Valid reports whether key material is present.
func (k IdentityResolvingKey) Valid() bool {
	return k.Key != ([16]byte{})
}

// Matches reports whether the resolvable private address was generated from
// this key.
func (k IdentityResolvingKey) Matches(rpa bluecore.DeviceID) bool {
	if !k.Valid() || !rpa.Resolvable() {
		return false
	}
	return ResolveRPA(k.Key, rpa.Addr.Bytes())
}

// SignatureResolvingKey (CSRK) authenticates signed writes.
type SignatureResolvingKey struct {
	Key           [16]byte `json:"key"`
	Counter       uint32   `json:"counter"`
	Authenticated bool     `json:"authenticated"`
}

// Valid reports whether key material is present.
func (k SignatureResolvingKey) Valid() bool {
	return k.Key != ([16]byte{})
}

// LinkKey is the BR/EDR key derived via cross-transport key derivation.
type LinkKey struct {
	Key      [16]byte `json:"key"`
	KeyType  uint8    `json:"keyType"`
	PINLen   uint8    `json:"pinLen"`
	Combined bool     `json:"combined"`
}

// Valid reports whether key material is present.
func (k LinkKey) Valid() bool {
	return k.Key != ([16]byte{})
}
