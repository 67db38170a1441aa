package smp

import (
	"crypto/aes"
	"fmt"

	"github.com/aead/cmac"
	"github.com/seliot/bluecore/sliceops"
)

// aesCMAC computes AES-CMAC over LSB-first key and message, returning an
// LSB-first result.
func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	if _, err := mMac.Write(sliceops.SwapBuf(msg)); err != nil {
		return nil, err
	}

	return sliceops.SwapBuf(mMac.Sum(nil)), nil
}

func aes128(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 16)
	mCipher.Encrypt(out, msg)
	return out, nil
}

func xorSlice(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// F4 is the LE Secure Connections confirm value generation function.
// Core Spec Vol 3, Part H, 2.2.6.
func F4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, fmt.Errorf("length error")
	}

	m := []byte{z}
	m = append(m, v...)
	m = append(m, u...)

	return aesCMAC(x, m)
}

// F5 is the LE Secure Connections key generation function, returning
// (MacKey, LTK). Core Spec Vol 3, Part H, 2.2.7.
func F5(w, n1, n2, a1, a2 []byte) ([]byte, []byte, error) {
	switch {
	case len(w) != 32:
		return nil, nil, fmt.Errorf("length error w")
	case len(n1) != 16:
		return nil, nil, fmt.Errorf("length error n1")
	case len(n2) != 16:
		return nil, nil, fmt.Errorf("length error n2")
	case len(a1) != 7:
		return nil, nil, fmt.Errorf("length error a1")
	case len(a2) != 7:
		return nil, nil, fmt.Errorf("length error a2")
	}

	btle := []byte{0x65, 0x6c, 0x74, 0x62}
	salt := []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}
	length := []byte{0x00, 0x01}

	t, err := aesCMAC(salt, w)
	if err != nil {
		return nil, nil, err
	}

	m := length
	m = append(m, a2...)
	m = append(m, a1...)
	m = append(m, n2...)
	m = append(m, n1...)
	m = append(m, btle...)
	m = append(m, 0x00)

	macKey, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, err
	}

	m[len(m)-1] = 0x01
	ltk, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, err
	}

	return macKey, ltk, nil
}

// C1 is the legacy pairing confirm value generation function:
// c1(k, r, preq, pres, iat, rat, ia, ra) = e(k, e(k, r xor p1) xor p2).
// All byte slices are LSB first. Core Spec Vol 3, Part H, 2.2.3.
func C1(k, r, preq, pres []byte, iat, rat byte, ia, ra []byte) ([]byte, error) {
	switch {
	case len(k) != 16 || len(r) != 16:
		return nil, fmt.Errorf("length error key material")
	case len(preq) != 7 || len(pres) != 7:
		return nil, fmt.Errorf("length error pairing pdus")
	case len(ia) != 6 || len(ra) != 6:
		return nil, fmt.Errorf("length error addresses")
	}

	// p1 = pres || preq || rat || iat
	p1 := make([]byte, 0, 16)
	p1 = append(p1, iat&0x01, rat&0x01)
	p1 = append(p1, preq...)
	p1 = append(p1, pres...)

	// p2 = padding || ia || ra
	p2 := make([]byte, 0, 16)
	p2 = append(p2, ra...)
	p2 = append(p2, ia...)
	p2 = append(p2, 0x00, 0x00, 0x00, 0x00)

	res, err := aes128(sliceops.SwapBuf(k), sliceops.SwapBuf(xorSlice(r, p1)))
	if err != nil {
		return nil, err
	}

	res, err = aes128(sliceops.SwapBuf(k), xorSlice(res, sliceops.SwapBuf(p2)))
	if err != nil {
		return nil, err
	}

	return sliceops.SwapBuf(res), nil
}

// AH is the random address hash function: ah(k, r) = e(k, r') mod 2^24.
// k is MSB first, prand is the 3 MSB-first prand bytes of the address.
// Core Spec Vol 3, Part H, 2.2.2.
func AH(k [16]byte, prand []byte) ([]byte, error) {
	if len(prand) != 3 {
		return nil, fmt.Errorf("length error prand")
	}

	rp := make([]byte, 16)
	copy(rp[13:], prand)

	out, err := aes128(k[:], rp)
	if err != nil {
		return nil, err
	}

	return out[13:], nil
}

// ResolveRPA reports whether the MSB-first resolvable private address rpa was
// generated from the identity resolving key irk.
func ResolveRPA(irk [16]byte, rpa []byte) bool {
	if len(rpa) != 6 || rpa[0]&0xc0 != 0x40 {
		return false
	}

	hash, err := AH(irk, rpa[:3])
	if err != nil {
		return false
	}

	return hash[0] == rpa[3] && hash[1] == rpa[4] && hash[2] == rpa[5]
}
