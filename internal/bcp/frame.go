package bcp

import (
	"errors"

	"github.com/newrupturesystems/cnc1/internal/transport"
)

// Request opcodes (host -> device), per spec.md section 3.
const (
	reqDeviceInfo  byte = 0x00
	reqSetFlags    byte = 0x01
	reqSetAddress  byte = 0x02
	reqReadMemory  byte = 0x03
	reqWriteMemory byte = 0x04
)

// Response opcodes (device -> host), per spec.md section 3.
const (
	rspNone    byte = 0x00
	rspData    byte = 0x01
	rspInvalid byte = 0x02
)

// FlagAddrInc is the only defined session flag bit: the device
// auto-increments its address after each successful memory access.
const FlagAddrInc byte = 0x01

const (
	propertyBCPVersion  byte = 0x00
	bcpVersionSupported byte = 0x10
)

var (
	errParity      = errors.New("bcp: parity check failed")
	errCRC         = errors.New("bcp: crc check failed")
	errInvalidSize = errors.New("bcp: size must be in [1,8]")
)

// session is the 10-byte scratch-frame state shared by the host and
// device roles, per spec.md section 3 ("Session state (both roles)").
// pkt is sized 1 (header) + 8 (max payload) + 1 (crc) = 10 bytes.
type session struct {
	t   transport.Transport
	pkt [10]byte
}

// send builds and transmits a frame carrying 1..8 payload bytes.
func (s *session) send(opcode byte, payload []byte) error {
	n := byte(len(payload))
	encSize := n - 1

	s.pkt[0] = (opcode & 0x07) << 5
	s.pkt[0] |= oddParityBit(opcode) << 4
	s.pkt[0] |= oddParityBit(encSize) << 3
	s.pkt[0] |= encSize & 0x07

	copy(s.pkt[1:], payload)
	total := 1 + int(n)
	s.pkt[total] = crc8(s.pkt[:total])

	return s.t.WriteExact(s.pkt[:total+1])
}

// receive blocks for a full frame and returns its opcode and payload.
// The returned payload slice aliases s.pkt and is only valid until the
// next send/receive call.
func (s *session) receive() (opcode byte, payload []byte, err error) {
	if err = s.t.ReadExact(s.pkt[:1]); err != nil {
		return 0, nil, err
	}

	opcode = (s.pkt[0] >> 5) & 0x07
	encSize := s.pkt[0] & 0x07
	bit4 := (s.pkt[0] >> 4) & 0x01
	bit3 := (s.pkt[0] >> 3) & 0x01
	if bit4 != oddParityBit(opcode) || bit3 != oddParityBit(encSize) {
		return 0, nil, errParity
	}

	remaining := int(encSize) + 2
	if err = s.t.ReadExact(s.pkt[1 : 1+remaining]); err != nil {
		return 0, nil, err
	}

	total := 1 + remaining
	if s.pkt[total-1] != crc8(s.pkt[:total-1]) {
		return 0, nil, errCRC
	}

	return opcode, s.pkt[1 : 1+int(encSize)+1], nil
}
