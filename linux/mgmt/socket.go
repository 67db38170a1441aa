//go:build linux
// +build linux

package mgmt

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const hdrLen = 6

// Socket is the kernel's raw Bluetooth management control channel.
type Socket struct {
	fd     int
	buf    []byte
	closed chan struct{}
	cmu    sync.Mutex
	rmu    sync.Mutex
	wmu    sync.Mutex
}

// NewSocket opens and binds the management control channel.
func NewSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create mgmt socket")
	}

	sa := unix.SockaddrHCI{
		Dev:     IndexNone,
		Channel: unix.HCI_CHANNEL_CONTROL,
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind mgmt socket")
	}

	// drain anything the kernel queued before we were bound
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	unix.Poll(pfds, 20)
	if pfds[0].Revents&unix.POLLIN > 0 {
		b := make([]byte, 512)
		unix.Read(fd, b)
	}

	return &Socket{fd: fd, buf: make([]byte, 4096), closed: make(chan struct{})}, nil
}

func header(op Opcode, index uint16, plen uint16) []byte {
	b := make([]byte, hdrLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(op))
	binary.LittleEndian.PutUint16(b[2:4], index)
	binary.LittleEndian.PutUint16(b[4:6], plen)
	return b
}

// WriteCommand sends one command with the given parameter bytes.
func (s *Socket) WriteCommand(op Opcode, index uint16, param []byte) error {
	if !s.isOpen() {
		return fmt.Errorf("mgmt socket closed")
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	c := append(header(op, index, uint16(len(param))), param...)
	n, err := unix.Write(s.fd, c)
	if err != nil {
		return errors.Wrap(err, "mgmt write")
	}
	if n != len(c) {
		return fmt.Errorf("mgmt short write: %d of %d", n, len(c))
	}
	return nil
}

// ReadPacket reads one inbound event packet.
func (s *Socket) ReadPacket() (Packet, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	n, err := unix.Read(s.fd, s.buf)
	if err != nil {
		return Packet{}, errors.Wrap(err, "mgmt read")
	}
	if n < hdrLen {
		return Packet{}, fmt.Errorf("mgmt short packet: %d bytes", n)
	}

	plen := int(binary.LittleEndian.Uint16(s.buf[4:6]))
	if hdrLen+plen > n {
		return Packet{}, fmt.Errorf("mgmt truncated packet: head %d body %d", n, plen)
	}

	data := make([]byte, plen)
	copy(data, s.buf[hdrLen:hdrLen+plen])

	return Packet{
		Event: EventCode(binary.LittleEndian.Uint16(s.buf[0:2])),
		Index: binary.LittleEndian.Uint16(s.buf[2:4]),
		Data:  data,
	}, nil
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Close shuts the socket down; pending reads fail.
func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	if !s.isOpen() {
		return nil
	}
	close(s.closed)
	return unix.Close(s.fd)
}
