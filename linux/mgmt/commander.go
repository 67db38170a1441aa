package mgmt

import (
	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// AllowListAction selects what the controller does with an allow-list entry.
type AllowListAction byte

const (
	// ActionBackgroundScan: report the device when seen, do not connect.
	ActionBackgroundScan AllowListAction = 0x00
	// ActionAllowConnect: accept incoming connections from the device.
	ActionAllowConnect AllowListAction = 0x01
	// ActionAutoConnect: connect whenever the device advertises.
	ActionAutoConnect AllowListAction = 0x02
)

// SysParams are the controller defaults read at adapter start.
type SysParams struct {
	ScanInterval    uint16
	ScanWindow      uint16
	ConnMinInterval uint16
	ConnMaxInterval uint16
	ConnLatency     uint16
	SupervisionTmo  uint16
}

// Commander issues outbound management-channel commands. The returned status
// only acknowledges command acceptance: the authoritative state change is
// reported later through the event stream.
type Commander interface {
	SetPowered(on bool) bluecore.Status
	SetDiscoverable(on bool, timeout uint16) bluecore.Status
	SetBondable(on bool) bluecore.Status
	SetSecureConnections(mode byte) bluecore.Status
	SetPrivacy(irk [16]byte) bluecore.Status
	SetIOCapability(c bluecore.IOCapability) bluecore.Status

	AddToAllowList(id bluecore.DeviceID, action AllowListAction) bluecore.Status
	RemoveFromAllowList(id bluecore.DeviceID) bluecore.Status

	PairDevice(id bluecore.DeviceID, c bluecore.IOCapability) bluecore.Status
	CancelPairDevice(id bluecore.DeviceID) bluecore.Status
	Unpair(id bluecore.DeviceID, disconnect bool) bluecore.Status

	UploadLongTermKey(id bluecore.DeviceID, key smp.LongTermKey) bluecore.Status
	UploadLinkKey(id bluecore.DeviceID, key smp.LinkKey) bluecore.Status
	UploadIdentityResolvingKey(id bluecore.DeviceID, key smp.IdentityResolvingKey) bluecore.Status

	// NotifyResolvedAddress informs the transport that the resolvable
	// address visible maps to the stable identity id.
	NotifyResolvedAddress(identity, visible bluecore.DeviceID) bluecore.Status

	ReadDefaultSysParams() (SysParams, bluecore.Status)
}
