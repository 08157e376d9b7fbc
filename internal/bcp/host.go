// Package bcp implements the Basic Control Protocol: a framed
// request/response codec (frame.go, crc.go) plus a host role (this file)
// and a device role (device.go) built on top of it. Both roles are
// parameterized by a transport.Transport, so the same codec powers unit
// tests against an in-memory pipe, a hosted CLI talking over a serial
// port, and a device-role simulator.
package bcp

import (
	"encoding/binary"

	"github.com/newrupturesystems/cnc1/internal/transport"
)

// Host is the host-role BCP session: it issues requests and blocks for
// the matching response. Every method is a complete, synchronous
// round-trip; there is no pipelining.
type Host struct {
	session
}

// OpenHost performs the BCP version handshake over t. A successful
// handshake is a precondition for every other Host method.
func OpenHost(t transport.Transport) (*Host, error) {
	h := &Host{session: session{t: t}}

	if err := h.send(reqDeviceInfo, []byte{propertyBCPVersion}); err != nil {
		return nil, wrapErr(ErrVersionUnavailable, err)
	}

	opcode, payload, err := h.receive()
	if err != nil || opcode != rspData || len(payload) != 1 {
		return nil, wrapErr(ErrVersionUnavailable, err)
	}
	if payload[0] > bcpVersionSupported {
		return nil, wrapErr(ErrVersionUnsupported, nil)
	}

	return h, nil
}

// SetAddress sets the device's current target address for subsequent
// reads/writes.
func (h *Host) SetAddress(addr uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], addr)

	if err := h.send(reqSetAddress, buf[:]); err != nil {
		return wrapErr(ErrCommunication, err)
	}
	opcode, _, err := h.receive()
	if err != nil || opcode != rspNone {
		return wrapErr(ErrCommunication, err)
	}
	return nil
}

// SetFlags sets the device's session flags (see FlagAddrInc).
func (h *Host) SetFlags(flags byte) error {
	if err := h.send(reqSetFlags, []byte{flags}); err != nil {
		return wrapErr(ErrCommunication, err)
	}
	opcode, _, err := h.receive()
	if err != nil || opcode != rspNone {
		return wrapErr(ErrCommunication, err)
	}
	return nil
}

// ReadMemory reads len(buf) bytes (1..8) from the device's current
// address into buf.
func (h *Host) ReadMemory(buf []byte) error {
	n := len(buf)
	if n < 1 || n > 8 {
		return wrapErr(ErrCommunication, errInvalidSize)
	}

	if err := h.send(reqReadMemory, []byte{byte(n - 1)}); err != nil {
		return wrapErr(ErrCommunication, err)
	}
	opcode, payload, err := h.receive()
	if err != nil || opcode != rspData || len(payload) != n {
		return wrapErr(ErrCommunication, err)
	}

	copy(buf, payload)
	return nil
}

// WriteMemory writes len(buf) bytes (1..8) to the device's current address.
func (h *Host) WriteMemory(buf []byte) error {
	n := len(buf)
	if n < 1 || n > 8 {
		return wrapErr(ErrCommunication, errInvalidSize)
	}

	if err := h.send(reqWriteMemory, buf); err != nil {
		return wrapErr(ErrCommunication, err)
	}
	opcode, _, err := h.receive()
	if err != nil || opcode != rspNone {
		return wrapErr(ErrCommunication, err)
	}
	return nil
}

// Close releases the underlying transport, if it supports being closed.
func (h *Host) Close() error {
	if c, ok := h.t.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
