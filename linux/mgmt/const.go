package mgmt

// Opcode is a management-channel command opcode.
type Opcode uint16

// IndexNone addresses no particular controller; control commands use it.
const IndexNone uint16 = 0xffff

// Commands consumed by this control plane, per the kernel mgmt API.
const (
	OpReadIndexList       Opcode = 0x0003
	OpReadInfo            Opcode = 0x0004
	OpSetPowered          Opcode = 0x0005
	OpSetDiscoverable     Opcode = 0x0006
	OpSetConnectable      Opcode = 0x0007
	OpSetBondable         Opcode = 0x0009
	OpSetLE               Opcode = 0x000D
	OpSetLocalName        Opcode = 0x000F
	OpLoadLinkKeys        Opcode = 0x0012
	OpLoadLongTermKeys    Opcode = 0x0013
	OpDisconnect          Opcode = 0x0014
	OpPinCodeReply        Opcode = 0x0016
	OpPinCodeNegReply     Opcode = 0x0017
	OpSetIOCapability     Opcode = 0x0018
	OpPairDevice          Opcode = 0x0019
	OpCancelPairDevice    Opcode = 0x001A
	OpUnpairDevice        Opcode = 0x001B
	OpUserConfirmReply    Opcode = 0x001C
	OpUserConfirmNegReply Opcode = 0x001D
	OpUserPasskeyReply    Opcode = 0x001E
	OpUserPasskeyNegReply Opcode = 0x001F
	OpStartDiscovery      Opcode = 0x0023
	OpStopDiscovery       Opcode = 0x0024
	OpSetSecureConn       Opcode = 0x002D
	OpSetPrivacy          Opcode = 0x002F
	OpLoadIRKs            Opcode = 0x0030
	OpAddDevice           Opcode = 0x0033
	OpRemoveDevice        Opcode = 0x0034
	OpReadDefSysConfig    Opcode = 0x004B
)

// EventCode is a management-channel event code.
type EventCode uint16

// Packet is one raw inbound management packet.
type Packet struct {
	Event EventCode
	Index uint16
	Data  []byte
}

const (
	EvtCommandComplete  EventCode = 0x0001
	EvtCommandStatus    EventCode = 0x0002
	EvtControllerError  EventCode = 0x0003
	EvtIndexAdded       EventCode = 0x0004
	EvtIndexRemoved     EventCode = 0x0005
	EvtNewSettings      EventCode = 0x0006
	EvtLocalNameChanged EventCode = 0x0008
	EvtNewLinkKey       EventCode = 0x0009
	EvtNewLongTermKey   EventCode = 0x000A
	EvtDeviceConnected  EventCode = 0x000B
	EvtDeviceDisconn    EventCode = 0x000C
	EvtConnectFailed    EventCode = 0x000D
	EvtPinCodeRequest   EventCode = 0x000E
	EvtUserConfirmReq   EventCode = 0x000F
	EvtUserPasskeyReq   EventCode = 0x0010
	EvtAuthFailed       EventCode = 0x0011
	EvtDeviceFound      EventCode = 0x0012
	EvtDiscovering      EventCode = 0x0013
	EvtDeviceUnpaired   EventCode = 0x0016
	EvtPasskeyNotify    EventCode = 0x0017
	EvtNewIRK           EventCode = 0x0018
	EvtNewCSRK          EventCode = 0x0019
	EvtDeviceAdded      EventCode = 0x001A
	EvtDeviceRemoved    EventCode = 0x001B
)

// Mgmt command status codes.
const (
	statusSuccess        byte = 0x00
	statusUnknownCommand byte = 0x01
	statusNotConnected   byte = 0x02
	statusFailed         byte = 0x03
	statusConnectFailed  byte = 0x04
	statusAuthFailed     byte = 0x05
	statusNotPaired      byte = 0x06
	statusNoResources    byte = 0x07
	statusTimeout        byte = 0x08
	statusAlreadyConn    byte = 0x09
	statusBusy           byte = 0x0A
	statusRejected       byte = 0x0B
	statusNotSupported   byte = 0x0C
	statusInvalidParams  byte = 0x0D
	statusDisconnected   byte = 0x0E
	statusNotPowered     byte = 0x0F
	statusCancelled      byte = 0x10
	statusInvalidIndex   byte = 0x11
	statusRFKilled       byte = 0x12
)
