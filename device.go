package bluecore

import "time"

// Device is the read-only view of a remote device handed to listeners. The
// mutable record behind it lives in the adapter's registries.
type Device interface {
	// ID is the immutable identity the device was first seen under.
	ID() DeviceID
	// VisibleID is the address the device currently advertises with; it
	// differs from ID when a resolvable private address was matched by IRK.
	VisibleID() DeviceID
	Name() string
	// Handle is the link handle; only meaningful while Connected.
	Handle() uint16
	Connected() bool
	// Role is the remote device's role at the time of interaction.
	Role() Role
	PairingState() PairingState
	PairingMode() PairingMode
	LastSeen() time.Time
	RSSI() int8
}
