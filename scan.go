package bluecore

import "fmt"

// ScanType is a bitmask of active discovery transports. The adapter tracks
// two of these: the native value last reported by the link-control layer and
// the meta value exposed to listeners.
type ScanType byte

const (
	ScanTypeNone  ScanType = 0x00
	ScanTypeBREDR ScanType = 0x01
	ScanTypeLE    ScanType = 0x02
	ScanTypeDual  ScanType = ScanTypeBREDR | ScanTypeLE
)

// Has reports whether all bits of o are set in s.
func (s ScanType) Has(o ScanType) bool {
	return s&o == o
}

// Set returns s with the bits of o added.
func (s ScanType) Set(o ScanType) ScanType {
	return s | o
}

// Clear returns s with the bits of o removed.
func (s ScanType) Clear(o ScanType) ScanType {
	return s &^ o
}

func (s ScanType) String() string {
	switch s {
	case ScanTypeNone:
		return "none"
	case ScanTypeBREDR:
		return "bredr"
	case ScanTypeLE:
		return "le"
	case ScanTypeDual:
		return "dual"
	}
	return fmt.Sprintf("scantype(%d)", byte(s))
}

// DiscoveryPolicy governs what the adapter does with scanning around device
// connections.
type DiscoveryPolicy int

const (
	// DiscoveryAutoOff: scanning is off unless explicitly requested; native
	// and meta scan state must agree whenever this policy is active.
	DiscoveryAutoOff DiscoveryPolicy = iota
	// DiscoveryPauseConnectedUntilDisconnected pauses discovery while any
	// connected device still needs it paused, resuming after disconnect.
	DiscoveryPauseConnectedUntilDisconnected
	// DiscoveryPauseConnectedUntilReady resumes discovery once the connected
	// device finished its post-connection negotiation.
	DiscoveryPauseConnectedUntilReady
	// DiscoveryPauseConnectedUntilPaired resumes discovery once pairing
	// completed or failed.
	DiscoveryPauseConnectedUntilPaired
	// DiscoveryAlwaysOn keeps scanning enabled, re-enabling it in the
	// background whenever a side effect turned it off.
	DiscoveryAlwaysOn
)

func (p DiscoveryPolicy) String() string {
	switch p {
	case DiscoveryAutoOff:
		return "auto-off"
	case DiscoveryPauseConnectedUntilDisconnected:
		return "pause-connected-until-disconnected"
	case DiscoveryPauseConnectedUntilReady:
		return "pause-connected-until-ready"
	case DiscoveryPauseConnectedUntilPaired:
		return "pause-connected-until-paired"
	case DiscoveryAlwaysOn:
		return "always-on"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Role is the BT role of the local or remote side of a link.
type Role byte

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	}
	return "none"
}
