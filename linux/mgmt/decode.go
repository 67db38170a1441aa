package mgmt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
	"github.com/seliot/bluecore/sliceops"
)

var logger = bluecore.GetLogger()

// readID parses the 7-byte mgmt address layout: LSB-first address plus type.
func readID(b []byte) (bluecore.DeviceID, error) {
	if len(b) < 7 {
		return bluecore.DeviceID{}, fmt.Errorf("short address field")
	}
	return bluecore.DeviceID{
		Addr: bluecore.NewAddrFromBytes(sliceops.SwapBuf(b[:6])),
		Type: mapAddrType(b[6]),
	}, nil
}

// mapAddrType folds the mgmt address-type encoding (0 BR/EDR, 1 LE public,
// 2 LE random) onto AddrType.
func mapAddrType(t byte) bluecore.AddrType {
	switch t {
	case 0x01:
		return bluecore.AddrTypePublic
	case 0x02:
		return bluecore.AddrTypeRandom
	default:
		return bluecore.AddrTypePublic
	}
}

func key16(b []byte) [16]byte {
	var k [16]byte
	copy(k[:], sliceops.SwapBuf(b[:16]))
	return k
}

// decodeEvent turns one raw packet into a typed event. Unknown events return
// (nil, nil) and are skipped.
func decodeEvent(pkt Packet) (Event, error) {
	b := pkt.Data
	short := func() error {
		return fmt.Errorf("short %#04x event: %d bytes", uint16(pkt.Event), len(b))
	}

	switch pkt.Event {
	case EvtDiscovering:
		if len(b) < 2 {
			return nil, short()
		}
		var scan bluecore.ScanType
		if b[0]&0x01 != 0 {
			scan = scan.Set(bluecore.ScanTypeBREDR)
		}
		if b[0]&0x06 != 0 {
			scan = scan.Set(bluecore.ScanTypeLE)
		}
		return Discovering{Scan: scan, Enabled: b[1] != 0}, nil

	case EvtNewSettings:
		if len(b) < 4 {
			return nil, short()
		}
		return NewSettings{Settings: bluecore.AdapterSetting(binary.LittleEndian.Uint32(b))}, nil

	case EvtLocalNameChanged:
		name := string(bytes.TrimRight(b, "\x00"))
		return LocalNameChanged{Name: name}, nil

	case EvtDeviceConnected:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 11 {
			return nil, short()
		}
		return DeviceConnected{ID: id, Flags: binary.LittleEndian.Uint32(b[7:11])}, nil

	case EvtDeviceDisconn:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 8 {
			return nil, short()
		}
		return DeviceDisconnected{ID: id, Reason: b[7]}, nil

	case EvtConnectFailed:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 8 {
			return nil, short()
		}
		return ConnectFailed{ID: id, Status: b[7]}, nil

	case EvtPinCodeRequest:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 8 {
			return nil, short()
		}
		return PinCodeRequest{ID: id, Secure: b[7] != 0}, nil

	case EvtUserConfirmReq:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 12 {
			return nil, short()
		}
		return UserConfirmRequest{ID: id, Hint: b[7] != 0, Value: binary.LittleEndian.Uint32(b[8:12])}, nil

	case EvtUserPasskeyReq:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		return UserPasskeyRequest{ID: id}, nil

	case EvtPasskeyNotify:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 12 {
			return nil, short()
		}
		return PasskeyNotify{ID: id, Passkey: binary.LittleEndian.Uint32(b[7:11]), Entered: b[11]}, nil

	case EvtAuthFailed:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 8 {
			return nil, short()
		}
		return AuthFailed{ID: id, Status: b[7]}, nil

	case EvtDeviceUnpaired:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		return DeviceUnpaired{ID: id}, nil

	case EvtDeviceFound:
		id, err := readID(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 14 {
			return nil, short()
		}
		elen := int(binary.LittleEndian.Uint16(b[12:14]))
		if 14+elen > len(b) {
			return nil, fmt.Errorf("device found event with truncated eir")
		}
		eir := make([]byte, elen)
		copy(eir, b[14:14+elen])
		return DeviceFound{
			ID:    id,
			RSSI:  int8(b[7]),
			Flags: binary.LittleEndian.Uint32(b[8:12]),
			EIR:   eir,
		}, nil

	case EvtNewLinkKey:
		if len(b) < 26 {
			return nil, short()
		}
		id, err := readID(b[1:])
		if err != nil {
			return nil, err
		}
		return NewLinkKey{
			Store: b[0] != 0,
			ID:    id,
			Key:   smp.LinkKey{Key: key16(b[9:25]), KeyType: b[8], PINLen: b[25]},
		}, nil

	case EvtNewLongTermKey:
		if len(b) < 37 {
			return nil, short()
		}
		id, err := readID(b[1:])
		if err != nil {
			return nil, err
		}
		keyType := b[8]
		return NewLongTermKey{
			Store: b[0] != 0,
			ID:    id,
			Key: smp.LongTermKey{
				Key:               key16(b[21:37]),
				KeySize:           b[10],
				EDiv:              binary.LittleEndian.Uint16(b[11:13]),
				Rand:              binary.LittleEndian.Uint64(b[13:21]),
				Authenticated:     keyType == 0x01 || keyType == 0x03,
				SecureConnections: keyType >= 0x02,
			},
		}, nil

	case EvtNewIRK:
		if len(b) < 30 {
			return nil, short()
		}
		rpa := bluecore.NewAddrFromBytes(sliceops.SwapBuf(b[1:7]))
		id, err := readID(b[7:])
		if err != nil {
			return nil, err
		}
		k := smp.IdentityResolvingKey{
			Key:          key16(b[14:30]),
			Identity:     id,
			IdentityAddr: id.Addr.String(),
			IdentityType: id.Type,
		}
		return NewIdentityResolvingKey{Store: b[0] != 0, RPA: rpa, ID: id, Key: k}, nil

	case EvtNewCSRK:
		if len(b) < 25 {
			return nil, short()
		}
		id, err := readID(b[1:])
		if err != nil {
			return nil, err
		}
		return NewSignatureResolvingKey{
			Store: b[0] != 0,
			ID:    id,
			Key:   smp.SignatureResolvingKey{Key: key16(b[9:25]), Authenticated: b[8] == 0x02 || b[8] == 0x03},
		}, nil

	case EvtIndexAdded, EvtIndexRemoved, EvtControllerError, EvtDeviceAdded, EvtDeviceRemoved:
		return nil, nil
	}

	logger.Debugf("mgmt: ignoring event %#04x", uint16(pkt.Event))
	return nil, nil
}
