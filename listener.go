package bluecore

import (
	"strings"
	"time"
)

// EIRMask identifies which advertised fields changed between two sightings of
// the same device.
type EIRMask uint32

const (
	EIRName EIRMask = 1 << iota
	EIRShortName
	EIRRSSI
	EIRTxPower
	EIRFlags
	EIRServices
	EIRManufacturerData
	EIRAppearance
	EIRServiceData
)

// Has reports whether all bits of o are set.
func (m EIRMask) Has(o EIRMask) bool {
	return m&o == o
}

func (m EIRMask) String() string {
	if m == 0 {
		return "[]"
	}
	names := []struct {
		bit  EIRMask
		name string
	}{
		{EIRName, "name"},
		{EIRShortName, "short-name"},
		{EIRRSSI, "rssi"},
		{EIRTxPower, "tx-power"},
		{EIRFlags, "flags"},
		{EIRServices, "services"},
		{EIRManufacturerData, "mfg-data"},
		{EIRAppearance, "appearance"},
		{EIRServiceData, "service-data"},
	}
	var ss []string
	for _, n := range names {
		if m.Has(n.bit) {
			ss = append(ss, n.name)
		}
	}
	return "[" + strings.Join(ss, " ") + "]"
}

// Listener receives classified adapter life-cycle events. Each logical
// transition is delivered exactly once; callbacks run outside any adapter
// lock and must not block for long.
type Listener interface {
	// DeviceFound reports a device newly visible in the current discovery
	// cycle. The return value reports interest: a device no listener is
	// interested in is not retained in the long-lived shared pool.
	DeviceFound(d Device, at time.Time) bool

	// DeviceUpdated reports changed advertised fields of an already found,
	// accepted device.
	DeviceUpdated(d Device, changed EIRMask, at time.Time)

	DeviceConnected(d Device, handle uint16, at time.Time)
	DeviceDisconnected(d Device, reason byte, handle uint16, at time.Time)

	// PairingStateChanged reports every pairing state transition, including
	// the synthetic failure injected by the pairing watchdog.
	PairingStateChanged(d Device, state PairingState, mode PairingMode, at time.Time)

	// DiscoveringChanged reports logical (meta) discovery transitions.
	DiscoveringChanged(scan, changed ScanType, enabled bool, policy DiscoveryPolicy, at time.Time)

	// SettingsChanged reports controller setting updates.
	SettingsChanged(old, cur, changed AdapterSetting, at time.Time)
}
