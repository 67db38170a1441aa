//go:build linux
// +build linux

package hcilink

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/seliot/bluecore"
	"github.com/seliot/bluecore/linux/smp"
	"github.com/seliot/bluecore/sliceops"
)

var logger bluecore.Logger = bluecore.GetLogger()

// SetLogger ...
func SetLogger(l bluecore.Logger) {
	logger = l
}

const cmdTimeout = 3 * time.Second

// HCI packet type indicators.
const (
	pktCommand = 0x01
	pktACLData = 0x02
	pktEvent   = 0x04
)

// L2CAP channel of the security manager protocol.
const cidSMP = 0x0006

// Link-control opcodes, OGF<<10 | OCF.
const (
	opDisconnect        = 0x0406
	opReset             = 0x0C03
	opLESetAdvEnable    = 0x200A
	opLESetScanParams   = 0x200B
	opLESetScanEnable   = 0x200C
	opLEStartEncryption = 0x2019
	opLELTKReply        = 0x201A
	opLELTKNegReply     = 0x201B
	opLESetDefaultPHY   = 0x2031
)

// Event codes.
const (
	evtDisconnComplete    = 0x05
	evtEncryptionChange   = 0x08
	evtCommandComplete    = 0x0E
	evtCommandStatus      = 0x0F
	evtKeyRefreshComplete = 0x30
	evtLEMeta             = 0x3E
)

// LE meta subevent codes.
const (
	leConnComplete         = 0x01
	leAdvertisingReport    = 0x02
	leReadRemoteFeatures   = 0x04
	leLongTermKeyRequest   = 0x05
	leEnhancedConnComplete = 0x0A
	lePHYUpdateComplete    = 0x0C
)

type linkResult struct {
	status byte
	data   []byte
}

// Client drives one controller over a HCI user channel. It implements
// Commander and decodes inbound packets into typed events. Commands answered
// only with a status event resolve on that status.
type Client struct {
	skt *Socket

	muSent sync.Mutex
	sent   map[uint16]chan linkResult

	muConns sync.Mutex
	conns   map[uint16]bluecore.DeviceID

	muScan      sync.Mutex
	scanEnabled bool

	events chan Event
	done   chan struct{}
	err    error
}

// NewClient binds a user channel to the given device id (-1 for the first
// available one) and starts the read loop.
func NewClient(devID int) (*Client, error) {
	skt, err := NewSocket(devID)
	if err != nil {
		return nil, err
	}

	c := &Client{
		skt:    skt,
		sent:   make(map[uint16]chan linkResult),
		conns:  make(map[uint16]bluecore.DeviceID),
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

	buf := make([]byte, 4096)
	for {
		n, err := c.skt.Read(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.err = err
			}
			return
		}
		if n == 0 {
			continue
		}

		pkt := buf[:n]
		switch pkt[0] {
		case pktEvent:
			c.handlePacket(pkt[1:])
		case pktACLData:
			c.handleACL(pkt[1:])
		default:
			logger.Debugf("hcilink: ignoring packet type 0x%02x", pkt[0])
		}
	}
}

// handleACL surfaces inbound SMP traffic as SecurityPDU events. Everything
// else on the data plane is owned by the kernel channels. SMP PDUs fit one
// frame; continuation fragments are dropped.
func (c *Client) handleACL(b []byte) {
	if len(b) < 8 {
		return
	}
	handle := binary.LittleEndian.Uint16(b[0:2]) & 0x0fff
	if pb := (b[1] >> 4) & 0x03; pb == 0x01 {
		return
	}
	dataLen := int(binary.LittleEndian.Uint16(b[2:4]))
	if len(b) < 4+dataLen || dataLen < 4 {
		return
	}
	l2Len := int(binary.LittleEndian.Uint16(b[4:6]))
	cid := binary.LittleEndian.Uint16(b[6:8])
	if cid != cidSMP || 8+l2Len > len(b) {
		return
	}
	pdu := make([]byte, l2Len)
	copy(pdu, b[8:8+l2Len])
	c.emit(SecurityPDU{Handle: handle, Data: pdu})
}

func (c *Client) handlePacket(b []byte) {
	if len(b) < 2 || len(b) < 2+int(b[1]) {
		logger.Warnf("hcilink: truncated event")
		return
	}
	code, param := b[0], b[2:2+int(b[1])]

	switch code {
	case evtCommandComplete:
		if len(param) < 4 {
			return
		}
		op := binary.LittleEndian.Uint16(param[1:3])
		c.routeResponse(op, linkResult{status: param[3], data: param[4:]})
	case evtCommandStatus:
		if len(param) < 4 {
			return
		}
		op := binary.LittleEndian.Uint16(param[2:4])
		c.routeResponse(op, linkResult{status: param[0]})
	default:
		for _, ev := range c.decodeEvent(code, param) {
			c.emit(ev)
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.Warnf("hcilink: event queue full, dropping %T", ev)
	}
}

func (c *Client) decodeEvent(code byte, p []byte) []Event {
	switch code {
	case evtDisconnComplete:
		if len(p) < 4 {
			return nil
		}
		handle := binary.LittleEndian.Uint16(p[1:3])
		return []Event{DeviceDisconnected{
			ID:     c.dropConn(handle),
			Handle: handle,
			Reason: p[3],
		}}

	case evtEncryptionChange:
		if len(p) < 4 {
			return nil
		}
		return []Event{EncryptionChanged{
			Handle:  binary.LittleEndian.Uint16(p[1:3]),
			Status:  p[0],
			Enabled: p[3] != 0,
		}}

	case evtKeyRefreshComplete:
		if len(p) < 3 {
			return nil
		}
		return []Event{EncryptionKeyRefreshComplete{
			Handle: binary.LittleEndian.Uint16(p[1:3]),
			Status: p[0],
		}}

	case evtLEMeta:
		if len(p) < 1 {
			return nil
		}
		return c.decodeLEMeta(p[0], p[1:])
	}
	return nil
}

func (c *Client) decodeLEMeta(sub byte, p []byte) []Event {
	switch sub {
	case leConnComplete, leEnhancedConnComplete:
		if len(p) < 11 {
			return nil
		}
		id := peerID(p[4], p[5:11])
		if p[0] != 0x00 {
			return []Event{ConnectFailed{ID: id, Status: p[0]}}
		}
		handle := binary.LittleEndian.Uint16(p[1:3])
		c.addConn(handle, id)
		role := bluecore.RoleMaster
		if p[3] == 0x01 {
			role = bluecore.RoleSlave
		}
		return []Event{DeviceConnected{ID: id, Handle: handle, Role: role}}

	case leAdvertisingReport:
		return decodeAdvReports(p)

	case leReadRemoteFeatures:
		if len(p) < 11 {
			return nil
		}
		return []Event{RemoteFeatures{
			Handle:   binary.LittleEndian.Uint16(p[1:3]),
			Status:   p[0],
			Features: binary.LittleEndian.Uint64(p[3:11]),
		}}

	case leLongTermKeyRequest:
		if len(p) < 12 {
			return nil
		}
		return []Event{LongTermKeyRequest{
			Handle: binary.LittleEndian.Uint16(p[0:2]),
			Rand:   binary.LittleEndian.Uint64(p[2:10]),
			EDiv:   binary.LittleEndian.Uint16(p[10:12]),
		}}

	case lePHYUpdateComplete:
		if len(p) < 5 {
			return nil
		}
		return []Event{PHYUpdateComplete{
			Handle: binary.LittleEndian.Uint16(p[1:3]),
			Status: p[0],
			TxPHY:  p[3],
			RxPHY:  p[4],
		}}
	}
	return nil
}

func decodeAdvReports(p []byte) []Event {
	if len(p) < 1 {
		return nil
	}
	n := int(p[0])
	p = p[1:]

	var evs []Event
	for i := 0; i < n; i++ {
		if len(p) < 9 {
			break
		}
		evtType, id := p[0], peerID(p[1], p[2:8])
		dataLen := int(p[8])
		if len(p) < 9+dataLen+1 {
			break
		}
		rep := ParseEIR(id, int8(p[9+dataLen]), p[9:9+dataLen])
		rep.EventType = evtType
		evs = append(evs, DeviceFound{Report: rep})
		p = p[9+dataLen+1:]
	}
	return evs
}

// peerID builds a DeviceID from the wire address type and LSB-first address.
func peerID(typ byte, addr []byte) bluecore.DeviceID {
	return bluecore.DeviceID{
		Addr: bluecore.NewAddrFromBytes(sliceops.SwapBuf(addr)),
		Type: bluecore.AddrType(typ),
	}
}

func (c *Client) addConn(handle uint16, id bluecore.DeviceID) {
	c.muConns.Lock()
	c.conns[handle] = id
	c.muConns.Unlock()
}

func (c *Client) dropConn(handle uint16) bluecore.DeviceID {
	c.muConns.Lock()
	defer c.muConns.Unlock()
	id := c.conns[handle]
	delete(c.conns, handle)
	return id
}

func (c *Client) routeResponse(op uint16, res linkResult) {
	c.muSent.Lock()
	ch, ok := c.sent[op]
	delete(c.sent, op)
	c.muSent.Unlock()

	if !ok {
		logger.Debugf("hcilink: response for idle opcode 0x%04x", op)
		return
	}
	ch <- res
}

func (c *Client) request(op uint16, param []byte) (linkResult, error) {
	if len(param) > 0xff {
		return linkResult{}, fmt.Errorf("command parameters too long")
	}

	c.muSent.Lock()
	if _, busy := c.sent[op]; busy {
		c.muSent.Unlock()
		return linkResult{}, fmt.Errorf("command with opcode 0x%04x pending", op)
	}
	ch := make(chan linkResult, 1)
	c.sent[op] = ch
	c.muSent.Unlock()

	pkt := make([]byte, 0, 4+len(param))
	pkt = append(pkt, pktCommand, byte(op), byte(op>>8), byte(len(param)))
	pkt = append(pkt, param...)
	if _, err := c.skt.Write(pkt); err != nil {
		c.muSent.Lock()
		delete(c.sent, op)
		c.muSent.Unlock()
		return linkResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-c.done:
		return linkResult{}, fmt.Errorf("hcilink closed")
	case <-time.After(cmdTimeout):
		c.muSent.Lock()
		delete(c.sent, op)
		c.muSent.Unlock()
		return linkResult{}, fmt.Errorf("no response to hci command 0x%04x", op)
	}
}

func (c *Client) simple(op uint16, param []byte) bluecore.Status {
	res, err := c.request(op, param)
	if err != nil {
		logger.Errorf("hcilink: %v", err)
		return bluecore.StatusFailed
	}
	return statusFrom(res.status)
}

// HCI error codes, Core Spec Vol 1, Part F.
func statusFrom(b byte) bluecore.Status {
	switch b {
	case 0x00:
		return bluecore.StatusSuccess
	case 0x01, 0x11, 0x12:
		return bluecore.StatusInvalidParams
	case 0x02:
		return bluecore.StatusNotConnected
	case 0x08, 0x22:
		return bluecore.StatusTimeout
	case 0x09, 0x0D:
		return bluecore.StatusBusy
	case 0x0C:
		return bluecore.StatusRejected
	default:
		return bluecore.StatusFailed
	}
}

// SetScanParams ...
func (c *Client) SetScanParams(p ScanParams) bluecore.Status {
	b := make([]byte, 7)
	if p.Active {
		b[0] = 0x01
	}
	binary.LittleEndian.PutUint16(b[1:], p.Interval)
	binary.LittleEndian.PutUint16(b[3:], p.Window)
	b[5] = byte(p.OwnAddr)
	b[6] = 0x00 // accept all advertisers
	return c.simple(opLESetScanParams, b)
}

// SetScanEnable flips the native scan state. On success a Discovering event
// is synthesized so state changes always arrive through the event stream.
func (c *Client) SetScanEnable(enable, filterDuplicates bool) bluecore.Status {
	b := []byte{0x00, 0x00}
	if enable {
		b[0] = 0x01
	}
	if filterDuplicates {
		b[1] = 0x01
	}
	st := c.simple(opLESetScanEnable, b)
	if st == bluecore.StatusSuccess {
		c.muScan.Lock()
		c.scanEnabled = enable
		c.muScan.Unlock()
		c.emit(Discovering{Scan: bluecore.ScanTypeLE, Enabled: enable})
	}
	return st
}

// StartAdvertising ...
func (c *Client) StartAdvertising() bluecore.Status {
	return c.simple(opLESetAdvEnable, []byte{0x01})
}

// StopAdvertising ...
func (c *Client) StopAdvertising() bluecore.Status {
	return c.simple(opLESetAdvEnable, []byte{0x00})
}

// SetDefaultPHY ...
func (c *Client) SetDefaultPHY(tx, rx byte) bluecore.Status {
	return c.simple(opLESetDefaultPHY, []byte{0x00, tx, rx})
}

// Reset ...
func (c *Client) Reset() bluecore.Status {
	return c.simple(opReset, nil)
}

// Disconnect tears down the link. The command resolves on its status event;
// the disconnection itself arrives later as a DeviceDisconnected event.
func (c *Client) Disconnect(handle uint16, reason byte) bluecore.Status {
	b := make([]byte, 3)
	binary.LittleEndian.PutUint16(b, handle)
	b[2] = reason
	return c.simple(opDisconnect, b)
}

// EnableEncryption starts encryption on a link with the given key.
func (c *Client) EnableEncryption(handle uint16, key smp.LongTermKey) bluecore.Status {
	b := make([]byte, 28)
	binary.LittleEndian.PutUint16(b[0:], handle)
	binary.LittleEndian.PutUint64(b[2:], key.Rand)
	binary.LittleEndian.PutUint16(b[10:], key.EDiv)
	copy(b[12:], sliceops.SwapBuf(key.Key[:]))
	return c.simple(opLEStartEncryption, b)
}

// LongTermKeyReply ...
func (c *Client) LongTermKeyReply(handle uint16, key [16]byte) bluecore.Status {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint16(b, handle)
	copy(b[2:], sliceops.SwapBuf(key[:]))
	return c.simple(opLELTKReply, b)
}

// LongTermKeyNegativeReply ...
func (c *Client) LongTermKeyNegativeReply(handle uint16) bluecore.Status {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, handle)
	return c.simple(opLELTKNegReply, b)
}

// SendSecurityPDU writes one raw SMP PDU to the link's security channel.
// There is no command response; delivery is confirmed only by the peer's
// next PDU.
func (c *Client) SendSecurityPDU(handle uint16, pdu []byte) bluecore.Status {
	b := make([]byte, 9+len(pdu))
	b[0] = pktACLData
	binary.LittleEndian.PutUint16(b[1:], handle&0x0fff)
	binary.LittleEndian.PutUint16(b[3:], uint16(4+len(pdu)))
	binary.LittleEndian.PutUint16(b[5:], uint16(len(pdu)))
	binary.LittleEndian.PutUint16(b[7:], cidSMP)
	copy(b[9:], pdu)
	if _, err := c.skt.Write(b); err != nil {
		logger.Errorf("hcilink: send smp pdu: %v", err)
		return bluecore.StatusFailed
	}
	return bluecore.StatusSuccess
}
