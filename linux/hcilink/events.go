package hcilink

import (
	"github.com/seliot/bluecore"
)

// Event is one inbound link-control event. Events from this channel and the
// management channel arrive independently; the adapter core must be correct
// under either interleaving.
type Event interface {
	linkEvent()
}

// Discovering reports the native scan enable state as seen by the link layer.
type Discovering struct {
	Scan    bluecore.ScanType
	Enabled bool
}

// DeviceFound carries one parsed advertising report.
type DeviceFound struct {
	Report *Report
}

// DeviceConnected reports a completed link with its handle and local role.
type DeviceConnected struct {
	ID     bluecore.DeviceID
	Handle uint16
	Role   bluecore.Role
}

// DeviceDisconnected reports a dropped link.
type DeviceDisconnected struct {
	ID     bluecore.DeviceID
	Handle uint16
	Reason byte
}

// ConnectFailed reports a failed connection attempt.
type ConnectFailed struct {
	ID     bluecore.DeviceID
	Status byte
}

// RemoteFeatures reports the peer's LE feature mask.
type RemoteFeatures struct {
	Handle   uint16
	Status   byte
	Features uint64
}

// PHYUpdateComplete reports a PHY change on a link.
type PHYUpdateComplete struct {
	Handle uint16
	Status byte
	TxPHY  byte
	RxPHY  byte
}

// EncryptionChanged reports the link encryption state.
type EncryptionChanged struct {
	Handle  uint16
	Status  byte
	Enabled bool
}

// EncryptionKeyRefreshComplete reports a completed key refresh.
type EncryptionKeyRefreshComplete struct {
	Handle uint16
	Status byte
}

// LongTermKeyRequest asks the host for the LTK matching ediv/rand.
type LongTermKeyRequest struct {
	Handle uint16
	Rand   uint64
	EDiv   uint16
}

// SecurityPDU carries one inbound SMP protocol data unit observed on the
// link's security channel.
type SecurityPDU struct {
	Handle uint16
	Data   []byte
}

func (Discovering) linkEvent()                  {}
func (DeviceFound) linkEvent()                  {}
func (DeviceConnected) linkEvent()              {}
func (DeviceDisconnected) linkEvent()           {}
func (ConnectFailed) linkEvent()                {}
func (RemoteFeatures) linkEvent()               {}
func (PHYUpdateComplete) linkEvent()            {}
func (EncryptionChanged) linkEvent()            {}
func (EncryptionKeyRefreshComplete) linkEvent() {}
func (LongTermKeyRequest) linkEvent()           {}
func (SecurityPDU) linkEvent()                  {}
