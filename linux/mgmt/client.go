//go:build linux
// +build linux

package mgmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
	"github.com/seliot/bluecore/sliceops"
)

const cmdTimeout = 3 * time.Second

type cmdResult struct {
	status byte
	data   []byte
}

// Client drives one controller over the management socket. It implements
// Commander and decodes inbound packets into typed events.
type Client struct {
	skt   *Socket
	index uint16

	muSent sync.Mutex
	sent   map[Opcode]chan cmdResult

	events chan Event
	done   chan struct{}
	err    error
}

// NewClient opens the control socket and starts the read loop for the given
// controller index.
func NewClient(index uint16) (*Client, error) {
	skt, err := NewSocket()
	if err != nil {
		return nil, err
	}

	c := &Client{
		skt:    skt,
		index:  index,
		sent:   make(map[Opcode]chan cmdResult),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the decoded inbound event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns the error that terminated the read loop, if any.
func (c *Client) Err() error {
	return c.err
}

// Close shuts down the socket and the event channel.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.skt.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		pkt, err := c.skt.ReadPacket()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.err = err
			}
			return
		}

		if pkt.Index != c.index && pkt.Index != IndexNone {
			continue
		}

		switch pkt.Event {
		case EvtCommandComplete, EvtCommandStatus:
			c.routeResponse(pkt)
		default:
			ev, err := decodeEvent(pkt)
			if err != nil {
				logger.Warnf("mgmt: %v", err)
				continue
			}
			if ev == nil {
				continue
			}
			select {
			case c.events <- ev:
			default:
				logger.Warnf("mgmt: event queue full, dropping %T", ev)
			}
		}
	}
}

func (c *Client) routeResponse(pkt Packet) {
	if len(pkt.Data) < 3 {
		logger.Warnf("mgmt: short command response")
		return
	}
	op := Opcode(binary.LittleEndian.Uint16(pkt.Data[0:2]))
	res := cmdResult{status: pkt.Data[2]}
	if len(pkt.Data) > 3 {
		res.data = pkt.Data[3:]
	}

	c.muSent.Lock()
	ch, ok := c.sent[op]
	delete(c.sent, op)
	c.muSent.Unlock()

	if !ok {
		logger.Debugf("mgmt: response for idle opcode 0x%04x", uint16(op))
		return
	}
	ch <- res
}

func (c *Client) request(op Opcode, param []byte) (cmdResult, error) {
	c.muSent.Lock()
	if _, busy := c.sent[op]; busy {
		c.muSent.Unlock()
		return cmdResult{}, fmt.Errorf("command with opcode 0x%04x pending", uint16(op))
	}
	ch := make(chan cmdResult, 1)
	c.sent[op] = ch
	c.muSent.Unlock()

	if err := c.skt.WriteCommand(op, c.index, param); err != nil {
		c.muSent.Lock()
		delete(c.sent, op)
		c.muSent.Unlock()
		return cmdResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-c.done:
		return cmdResult{}, fmt.Errorf("mgmt closed")
	case <-time.After(cmdTimeout):
		c.muSent.Lock()
		delete(c.sent, op)
		c.muSent.Unlock()
		return cmdResult{}, fmt.Errorf("no response to mgmt command 0x%04x", uint16(op))
	}
}

func (c *Client) simple(op Opcode, param []byte) bluecore.Status {
	res, err := c.request(op, param)
	if err != nil {
		logger.Errorf("mgmt: %v", err)
		return bluecore.StatusFailed
	}
	return statusFrom(res.status)
}

func statusFrom(b byte) bluecore.Status {
	switch b {
	case statusSuccess:
		return bluecore.StatusSuccess
	case statusBusy, statusAlreadyConn, statusNoResources:
		return bluecore.StatusBusy
	case statusTimeout:
		return bluecore.StatusTimeout
	case statusRejected, statusNotSupported, statusUnknownCommand:
		return bluecore.StatusRejected
	case statusNotPowered, statusRFKilled:
		return bluecore.StatusNotPowered
	case statusNotConnected, statusDisconnected:
		return bluecore.StatusNotConnected
	case statusInvalidParams, statusInvalidIndex:
		return bluecore.StatusInvalidParams
	default:
		return bluecore.StatusFailed
	}
}

func boolByte(on bool) byte {
	if on {
		return 1
	}
	return 0
}

// idBytes lays out a DeviceID as the mgmt wire format: LSB-first address
// followed by the address type.
func idBytes(id bluecore.DeviceID) []byte {
	b := sliceops.SwapBuf(id.Addr.Bytes())
	return append(b, byte(id.Type))
}

// SetPowered ...
func (c *Client) SetPowered(on bool) bluecore.Status {
	return c.simple(OpSetPowered, []byte{boolByte(on)})
}

// SetDiscoverable ...
func (c *Client) SetDiscoverable(on bool, timeout uint16) bluecore.Status {
	p := []byte{boolByte(on), 0, 0}
	binary.LittleEndian.PutUint16(p[1:], timeout)
	return c.simple(OpSetDiscoverable, p)
}

// SetBondable ...
func (c *Client) SetBondable(on bool) bluecore.Status {
	return c.simple(OpSetBondable, []byte{boolByte(on)})
}

// SetSecureConnections sets SC mode: 0 off, 1 on, 2 only.
func (c *Client) SetSecureConnections(mode byte) bluecore.Status {
	if mode > 2 {
		return bluecore.StatusInvalidParams
	}
	return c.simple(OpSetSecureConn, []byte{mode})
}

// SetPrivacy enables privacy with the given local IRK.
func (c *Client) SetPrivacy(irk [16]byte) bluecore.Status {
	p := append([]byte{0x01}, sliceops.SwapBuf(irk[:])...)
	return c.simple(OpSetPrivacy, p)
}

// SetIOCapability ...
func (c *Client) SetIOCapability(ioCap bluecore.IOCapability) bluecore.Status {
	return c.simple(OpSetIOCapability, []byte{byte(ioCap)})
}

// AddToAllowList ...
func (c *Client) AddToAllowList(id bluecore.DeviceID, action AllowListAction) bluecore.Status {
	return c.simple(OpAddDevice, append(idBytes(id), byte(action)))
}

// RemoveFromAllowList ...
func (c *Client) RemoveFromAllowList(id bluecore.DeviceID) bluecore.Status {
	return c.simple(OpRemoveDevice, idBytes(id))
}

// PairDevice starts pairing; the outcome is reported asynchronously as a
// PairDeviceComplete event.
func (c *Client) PairDevice(id bluecore.DeviceID, ioCap bluecore.IOCapability) bluecore.Status {
	go func() {
		res, err := c.request(OpPairDevice, append(idBytes(id), byte(ioCap)))
		if err != nil {
			logger.Errorf("mgmt: pair device: %v", err)
			res.status = statusFailed
		}
		select {
		case c.events <- PairDeviceComplete{ID: id, Status: res.status}:
		case <-c.done:
		}
	}()
	return bluecore.StatusSuccess
}

// CancelPairDevice ...
func (c *Client) CancelPairDevice(id bluecore.DeviceID) bluecore.Status {
	return c.simple(OpCancelPairDevice, idBytes(id))
}

// Unpair removes stored kernel keys for the device.
func (c *Client) Unpair(id bluecore.DeviceID, disconnect bool) bluecore.Status {
	return c.simple(OpUnpairDevice, append(idBytes(id), boolByte(disconnect)))
}

// UploadLongTermKey loads one LTK into the controller.
func (c *Client) UploadLongTermKey(id bluecore.DeviceID, key smp.LongTermKey) bluecore.Status {
	p := make([]byte, 0, 2+36)
	cnt := make([]byte, 2)
	binary.LittleEndian.PutUint16(cnt, 1)
	p = append(p, cnt...)
	p = append(p, idBytes(id)...)
	p = append(p, boolByte(key.Authenticated), 0x00, key.KeySize)
	ediv := make([]byte, 2)
	binary.LittleEndian.PutUint16(ediv, key.EDiv)
	p = append(p, ediv...)
	rnd := make([]byte, 8)
	binary.LittleEndian.PutUint64(rnd, key.Rand)
	p = append(p, rnd...)
	p = append(p, sliceops.SwapBuf(key.Key[:])...)
	return c.simple(OpLoadLongTermKeys, p)
}

// UploadLinkKey loads one BR/EDR link key into the controller.
func (c *Client) UploadLinkKey(id bluecore.DeviceID, key smp.LinkKey) bluecore.Status {
	p := make([]byte, 0, 3+25)
	p = append(p, 0x00) // no debug keys
	cnt := make([]byte, 2)
	binary.LittleEndian.PutUint16(cnt, 1)
	p = append(p, cnt...)
	p = append(p, idBytes(id)...)
	p = append(p, key.KeyType)
	p = append(p, sliceops.SwapBuf(key.Key[:])...)
	p = append(p, key.PINLen)
	return c.simple(OpLoadLinkKeys, p)
}

// UploadIdentityResolvingKey loads one peer IRK into the controller.
func (c *Client) UploadIdentityResolvingKey(id bluecore.DeviceID, key smp.IdentityResolvingKey) bluecore.Status {
	p := make([]byte, 0, 2+23)
	cnt := make([]byte, 2)
	binary.LittleEndian.PutUint16(cnt, 1)
	p = append(p, cnt...)
	p = append(p, idBytes(id)...)
	p = append(p, sliceops.SwapBuf(key.Key[:])...)
	return c.simple(OpLoadIRKs, p)
}

// NotifyResolvedAddress records a new RPA-to-identity mapping. The kernel
// resolves on its own once the IRK is loaded, so only the mapping is logged.
func (c *Client) NotifyResolvedAddress(identity, visible bluecore.DeviceID) bluecore.Status {
	logger.Debugf("mgmt: %v resolved to %v", visible, identity)
	return bluecore.StatusSuccess
}

// Info is the static controller description returned by ReadInfo.
type Info struct {
	ID       bluecore.DeviceID
	Settings bluecore.AdapterSetting
	Name     string
}

// ReadInfo reads the controller address, current settings and name.
func (c *Client) ReadInfo() (Info, bluecore.Status) {
	res, err := c.request(OpReadInfo, nil)
	if err != nil {
		logger.Errorf("mgmt: %v", err)
		return Info{}, bluecore.StatusFailed
	}
	if res.status != statusSuccess || len(res.data) < 271 {
		return Info{}, statusFrom(res.status)
	}

	b := res.data
	info := Info{
		ID: bluecore.DeviceID{
			Addr: bluecore.NewAddrFromBytes(sliceops.SwapBuf(b[0:6])),
			Type: bluecore.AddrTypePublic,
		},
		Settings: bluecore.AdapterSetting(binary.LittleEndian.Uint32(b[13:17])),
	}
	name := b[20:269]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	info.Name = string(name)
	return info, bluecore.StatusSuccess
}

// Default system configuration parameter types.
const (
	sysLEScanInterval   = 0x0011
	sysLEScanWindow     = 0x0012
	sysLEMinConnInt     = 0x0017
	sysLEMaxConnInt     = 0x0018
	sysLEConnLatency    = 0x0019
	sysLESupervisionTmo = 0x001a
)

// ReadDefaultSysParams reads the controller's default system configuration.
// Zero values mean the controller reported no override for that parameter.
func (c *Client) ReadDefaultSysParams() (SysParams, bluecore.Status) {
	res, err := c.request(OpReadDefSysConfig, nil)
	if err != nil {
		logger.Errorf("mgmt: %v", err)
		return SysParams{}, bluecore.StatusFailed
	}
	if res.status != statusSuccess {
		return SysParams{}, statusFrom(res.status)
	}

	var sp SysParams
	b := res.data
	for len(b) >= 3 {
		typ := binary.LittleEndian.Uint16(b[0:2])
		l := int(b[2])
		if len(b) < 3+l {
			break
		}
		if l == 2 {
			v := binary.LittleEndian.Uint16(b[3:5])
			switch typ {
			case sysLEScanInterval:
				sp.ScanInterval = v
			case sysLEScanWindow:
				sp.ScanWindow = v
			case sysLEMinConnInt:
				sp.ConnMinInterval = v
			case sysLEMaxConnInt:
				sp.ConnMaxInterval = v
			case sysLEConnLatency:
				sp.ConnLatency = v
			case sysLESupervisionTmo:
				sp.SupervisionTmo = v
			}
		}
		b = b[3+l:]
	}
	return sp, bluecore.StatusSuccess
}

// StartDiscovery asks the kernel to scan on the given transports.
func (c *Client) StartDiscovery(scan bluecore.ScanType) bluecore.Status {
	return c.simple(OpStartDiscovery, []byte{scanTypeBits(scan)})
}

// StopDiscovery ...
func (c *Client) StopDiscovery(scan bluecore.ScanType) bluecore.Status {
	return c.simple(OpStopDiscovery, []byte{scanTypeBits(scan)})
}

// scanTypeBits maps a ScanType to the mgmt address-type bitmask: bit 0
// BR/EDR, bits 1-2 LE public/random.
func scanTypeBits(scan bluecore.ScanType) byte {
	var b byte
	if scan.Has(bluecore.ScanTypeBREDR) {
		b |= 0x01
	}
	if scan.Has(bluecore.ScanTypeLE) {
		b |= 0x06
	}
	return b
}
