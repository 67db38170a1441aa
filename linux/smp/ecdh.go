package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/seliot/bluecore/sliceops"
	"github.com/wsddn/go-ecdh"
)

// ECDHKeys is a P-256 key pair used by LE Secure Connections pairing.
type ECDHKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

// Public returns the public half.
func (k *ECDHKeys) Public() crypto.PublicKey { return k.public }

// GenerateKeys creates a fresh P-256 key pair.
func GenerateKeys() (*ECDHKeys, error) {
	var err error
	kp := ECDHKeys{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &kp, nil
}

// UnmarshalPublicKey parses a 64-byte LSB-first X||Y public key.
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}
	e := ecdh.NewEllipticECDH(elliptic.P256())
	xs := sliceops.SwapBuf(b[:32])
	ys := sliceops.SwapBuf(b[32:])

	r := append([]byte{0x04}, xs...)
	r = append(r, ys...)

	return e.Unmarshal(r)
}

// MarshalPublicKeyXY serializes a public key as 64 LSB-first X||Y bytes.
func MarshalPublicKeyXY(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:]
	x := sliceops.SwapBuf(ba[:32])
	y := sliceops.SwapBuf(ba[32:])

	return append(x, y...)
}

// MarshalPublicKeyX serializes only the X coordinate, LSB first.
func MarshalPublicKeyX(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:]

	return sliceops.SwapBuf(ba[:32])
}

// GenerateSecret computes the LSB-first shared DH key.
func GenerateSecret(prv crypto.PrivateKey, pub crypto.PublicKey) ([]byte, error) {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	b, err := e.GenerateSharedSecret(prv, pub)
	return sliceops.SwapBuf(b), err
}
