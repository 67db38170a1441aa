package hcilink

import (
	"bytes"
	"encoding/binary"

	"github.com/seliot/bluecore"
)

// AD structure types, Supplement to the Core Specification, Part A.
const (
	adFlags            = 0x01
	adSomeUUID16       = 0x02
	adAllUUID16        = 0x03
	adShortName        = 0x08
	adCompleteName     = 0x09
	adTxPower          = 0x0A
	adAppearance       = 0x19
	adServiceData16    = 0x16
	adManufacturerData = 0xFF
)

// Report is one parsed advertising report as delivered by the link-control
// channel's device-found event.
type Report struct {
	ID        bluecore.DeviceID
	EventType byte
	RSSI      int8

	Name         string
	NameComplete bool
	Flags        byte
	HasFlags     bool
	TxPower      int8
	HasTxPower   bool
	Appearance   uint16
	Services     []uint16
	SvcData      []byte
	MfgData      []byte
}

// ParseEIR walks raw AD structures into a Report. Malformed trailing data is
// ignored, matching controller behavior.
func ParseEIR(id bluecore.DeviceID, rssi int8, eir []byte) *Report {
	r := &Report{ID: id, RSSI: rssi}

	for len(eir) >= 2 {
		l := int(eir[0])
		if l == 0 || l+1 > len(eir) {
			break
		}
		typ, data := eir[1], eir[2:l+1]
		eir = eir[l+1:]

		switch typ {
		case adFlags:
			if len(data) > 0 {
				r.Flags = data[0]
				r.HasFlags = true
			}
		case adShortName:
			if !r.NameComplete {
				r.Name = string(bytes.TrimRight(data, "\x00"))
			}
		case adCompleteName:
			r.Name = string(bytes.TrimRight(data, "\x00"))
			r.NameComplete = true
		case adTxPower:
			if len(data) > 0 {
				r.TxPower = int8(data[0])
				r.HasTxPower = true
			}
		case adAppearance:
			if len(data) >= 2 {
				r.Appearance = binary.LittleEndian.Uint16(data)
			}
		case adSomeUUID16, adAllUUID16:
			for len(data) >= 2 {
				r.Services = append(r.Services, binary.LittleEndian.Uint16(data))
				data = data[2:]
			}
		case adServiceData16:
			r.SvcData = append([]byte(nil), data...)
		case adManufacturerData:
			r.MfgData = append([]byte(nil), data...)
		}
	}

	return r
}

// Diff reports which advertised fields differ between two sightings. A nil
// previous report means everything present counts as changed.
func (r *Report) Diff(prev *Report) bluecore.EIRMask {
	var m bluecore.EIRMask
	if prev == nil {
		prev = &Report{}
	}

	if r.Name != prev.Name {
		if r.NameComplete {
			m |= bluecore.EIRName
		} else {
			m |= bluecore.EIRShortName
		}
	}
	if r.RSSI != prev.RSSI {
		m |= bluecore.EIRRSSI
	}
	if r.HasTxPower && r.TxPower != prev.TxPower {
		m |= bluecore.EIRTxPower
	}
	if r.HasFlags && r.Flags != prev.Flags {
		m |= bluecore.EIRFlags
	}
	if !uint16sEqual(r.Services, prev.Services) {
		m |= bluecore.EIRServices
	}
	if !bytes.Equal(r.SvcData, prev.SvcData) {
		m |= bluecore.EIRServiceData
	}
	if !bytes.Equal(r.MfgData, prev.MfgData) {
		m |= bluecore.EIRManufacturerData
	}
	if r.Appearance != prev.Appearance {
		m |= bluecore.EIRAppearance
	}
	return m
}

func uint16sEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
