package smp

import (
	"bytes"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/sliceops"
)

// OOBData is the payload one side hands over an out-of-band transport during
// secure-connections OOB pairing: its public key, a random value and the F4
// commitment binding the two. Core Spec Vol 3, Part H, 2.3.5.4.
type OOBData struct {
	PublicKey [64]byte
	Rand      [16]byte
	Confirm   [16]byte
}

// OOBExchange holds the local P-256 key pair and random across one
// out-of-band pairing exchange.
type OOBExchange struct {
	keys *ECDHKeys
	rnd  [16]byte
}

// NewOOBExchange generates a fresh key pair and random.
func NewOOBExchange() (*OOBExchange, error) {
	keys, err := GenerateKeys()
	if err != nil {
		return nil, err
	}
	x := &OOBExchange{keys: keys}
	if _, err := rand.Read(x.rnd[:]); err != nil {
		return nil, err
	}
	return x, nil
}

// Local builds the payload to hand to the peer: C = f4(PKx, PKx, r, 0).
func (x *OOBExchange) Local() (OOBData, error) {
	var out OOBData
	copy(out.PublicKey[:], MarshalPublicKeyXY(x.keys.public))
	out.Rand = x.rnd

	c, err := F4(out.PublicKey[:32], out.PublicKey[:32], out.Rand[:], 0)
	if err != nil {
		return OOBData{}, err
	}
	copy(out.Confirm[:], c)
	return out, nil
}

// Complete verifies the peer commitment and derives the long-term key from
// the DH secret. The initiator flag fixes the nonce and address ordering, so
// both sides derive the same key.
func (x *OOBExchange) Complete(peer OOBData, initiator bool, local, remote bluecore.DeviceID) (LongTermKey, error) {
	want, err := F4(peer.PublicKey[:32], peer.PublicKey[:32], peer.Rand[:], 0)
	if err != nil {
		return LongTermKey{}, err
	}
	if !bytes.Equal(want, peer.Confirm[:]) {
		return LongTermKey{}, errors.New("smp: oob confirm check failed")
	}

	pub, ok := UnmarshalPublicKey(peer.PublicKey[:])
	if !ok {
		return LongTermKey{}, errors.New("smp: bad oob public key")
	}
	dh, err := GenerateSecret(x.keys.private, pub)
	if err != nil {
		return LongTermKey{}, err
	}

	n1, n2 := x.rnd[:], peer.Rand[:]
	a1, a2 := oobAddr(local), oobAddr(remote)
	if !initiator {
		n1, n2 = n2, n1
		a1, a2 = a2, a1
	}
	_, ltk, err := F5(dh, n1, n2, a1, a2)
	if err != nil {
		return LongTermKey{}, err
	}

	k := LongTermKey{KeySize: 16, Authenticated: true, SecureConnections: true}
	copy(k.Key[:], ltk)
	return k, nil
}

// oobAddr packs a device address for f5: LSB-first address plus type byte.
func oobAddr(id bluecore.DeviceID) []byte {
	return append(sliceops.SwapBuf(id.Addr.Bytes()), byte(id.Type))
}
