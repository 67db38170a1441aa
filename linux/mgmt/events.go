package mgmt

import (
	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
)

// Event is one inbound management-channel event. The codec producing these is
// external to the adapter core; tests and the socket decoder both satisfy it.
type Event interface {
	Code() EventCode
}

// Discovering reports a native discovery state change.
type Discovering struct {
	Scan    bluecore.ScanType
	Enabled bool
}

func (Discovering) Code() EventCode { return EvtDiscovering }

// NewSettings reports the controller's current setting bitmask.
type NewSettings struct {
	Settings bluecore.AdapterSetting
}

func (NewSettings) Code() EventCode { return EvtNewSettings }

// LocalNameChanged reports a change of the controller's name.
type LocalNameChanged struct {
	Name      string
	ShortName string
}

func (LocalNameChanged) Code() EventCode { return EvtLocalNameChanged }

// DeviceConnected reports an established link, management view.
type DeviceConnected struct {
	ID    bluecore.DeviceID
	Flags uint32
	Name  string
}

func (DeviceConnected) Code() EventCode { return EvtDeviceConnected }

// DeviceDisconnected reports a dropped link, management view.
type DeviceDisconnected struct {
	ID     bluecore.DeviceID
	Reason byte
}

func (DeviceDisconnected) Code() EventCode { return EvtDeviceDisconn }

// ConnectFailed reports a failed outgoing connection attempt.
type ConnectFailed struct {
	ID     bluecore.DeviceID
	Status byte
}

func (ConnectFailed) Code() EventCode { return EvtConnectFailed }

// PinCodeRequest asks for a legacy PIN.
type PinCodeRequest struct {
	ID     bluecore.DeviceID
	Secure bool
}

func (PinCodeRequest) Code() EventCode { return EvtPinCodeRequest }

// UserConfirmRequest asks the user to confirm a numeric comparison value.
type UserConfirmRequest struct {
	ID    bluecore.DeviceID
	Hint  bool
	Value uint32
}

func (UserConfirmRequest) Code() EventCode { return EvtUserConfirmReq }

// UserPasskeyRequest asks the user to enter a passkey.
type UserPasskeyRequest struct {
	ID bluecore.DeviceID
}

func (UserPasskeyRequest) Code() EventCode { return EvtUserPasskeyReq }

// PasskeyNotify tells the user which passkey to enter on the remote side.
type PasskeyNotify struct {
	ID      bluecore.DeviceID
	Passkey uint32
	Entered uint8
}

func (PasskeyNotify) Code() EventCode { return EvtPasskeyNotify }

// AuthFailed reports a failed authentication with a remote device.
type AuthFailed struct {
	ID     bluecore.DeviceID
	Status byte
}

func (AuthFailed) Code() EventCode { return EvtAuthFailed }

// DeviceUnpaired reports removal of the pairing with a remote device.
type DeviceUnpaired struct {
	ID bluecore.DeviceID
}

func (DeviceUnpaired) Code() EventCode { return EvtDeviceUnpaired }

// PairDeviceComplete reports the outcome of a pair-device command. It is
// synthesized from the command response by the transport layer so it can
// travel the ordinary event path.
type PairDeviceComplete struct {
	ID     bluecore.DeviceID
	Status byte
}

func (PairDeviceComplete) Code() EventCode { return EvtCommandComplete }

// DeviceFound reports a discovery sighting, management view.
type DeviceFound struct {
	ID    bluecore.DeviceID
	RSSI  int8
	Flags uint32
	EIR   []byte
}

func (DeviceFound) Code() EventCode { return EvtDeviceFound }

// NewLongTermKey distributes an SMP long-term key.
type NewLongTermKey struct {
	Store bool
	ID    bluecore.DeviceID
	Key   smp.LongTermKey
}

func (NewLongTermKey) Code() EventCode { return EvtNewLongTermKey }

// NewLinkKey distributes a BR/EDR link key.
type NewLinkKey struct {
	Store bool
	ID    bluecore.DeviceID
	Key   smp.LinkKey
}

func (NewLinkKey) Code() EventCode { return EvtNewLinkKey }

// NewIdentityResolvingKey distributes a peer IRK together with the identity
// address the peer's resolvable addresses map to.
type NewIdentityResolvingKey struct {
	Store bool
	RPA   bluecore.Addr
	ID    bluecore.DeviceID
	Key   smp.IdentityResolvingKey
}

func (NewIdentityResolvingKey) Code() EventCode { return EvtNewIRK }

// NewSignatureResolvingKey distributes a peer CSRK.
type NewSignatureResolvingKey struct {
	Store bool
	ID    bluecore.DeviceID
	Key   smp.SignatureResolvingKey
}

func (NewSignatureResolvingKey) Code() EventCode { return EvtNewCSRK }
