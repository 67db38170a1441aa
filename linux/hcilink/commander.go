package hcilink

import (
	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// ScanParams are the LE scan parameters for the enable-scan command.
type ScanParams struct {
	Interval uint16
	Window   uint16
	OwnAddr  bluecore.AddrType
	Active   bool
}

// Commander issues outbound link-control commands. A returned success only
// means the controller accepted the command; the resulting state change is
// confirmed through the event stream.
type Commander interface {
	SetScanParams(p ScanParams) bluecore.Status
	SetScanEnable(enable, filterDuplicates bool) bluecore.Status

	StartAdvertising() bluecore.Status
	StopAdvertising() bluecore.Status

	SetDefaultPHY(tx, rx byte) bluecore.Status
	Reset() bluecore.Status

	Disconnect(handle uint16, reason byte) bluecore.Status

	// EnableEncryption starts encryption on a link with the given key.
	EnableEncryption(handle uint16, key smp.LongTermKey) bluecore.Status
	LongTermKeyReply(handle uint16, key [16]byte) bluecore.Status
	LongTermKeyNegativeReply(handle uint16) bluecore.Status

	// SendSecurityPDU writes one raw SMP PDU to the link's security channel.
	SendSecurityPDU(handle uint16, pdu []byte) bluecore.Status
}
