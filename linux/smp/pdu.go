package smp

import "fmt"

// PDU is one raw SMP protocol data unit: code byte followed by payload.
type PDU []byte

// Code returns the PDU code byte.
func (p PDU) Code() byte {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// Payload returns the bytes after the code.
func (p PDU) Payload() []byte {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

// Valid reports whether the PDU carries a known code.
func (p PDU) Valid() bool {
	c := p.Code()
	return c >= PairingRequest && c <= PairingKeypress
}

// Unsolicited reports whether the PDU starts an exchange from the remote side
// rather than answering an in-flight local command.
func (p PDU) Unsolicited() bool {
	switch p.Code() {
	case SecurityRequest, PairingRequest:
		return true
	}
	return false
}

func (p PDU) String() string {
	return fmt.Sprintf("smp pdu code=0x%02x len=%d", p.Code(), len(p))
}
