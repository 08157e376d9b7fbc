package bcp

import (
	"encoding/binary"

	"github.com/newrupturesystems/cnc1/internal/transport"
)

// MemReader services a device-role READ_MEMORY request. Implementations
// must fill out completely or return an error.
type MemReader func(addr uint64, out []byte) error

// MemWriter services a device-role WRITE_MEMORY request.
type MemWriter func(addr uint64, data []byte) error

// Device is the device-role BCP session: it never originates a frame —
// every send is caused by a prior receive dispatched from HandleRequest.
type Device struct {
	session
	flags   byte
	address uint64
}

// OpenDevice initializes a device-role session. Unlike the host role
// there is no handshake; the host drives it.
func OpenDevice(t transport.Transport) *Device {
	return &Device{session: session{t: t}}
}

// HandleRequest blocks for one request and dispatches it, invoking read
// or write as appropriate and replying with a response frame. A
// well-framed but unacceptable request or a callback failure yields an
// INVALID response; HandleRequest itself returns an error only when
// receiving or sending a frame fails (transport, parity or CRC failure),
// and sends no response for a request it could not receive.
func (d *Device) HandleRequest(read MemReader, write MemWriter) error {
	opcode, payload, err := d.receive()
	if err != nil {
		return wrapErr(ErrCommunication, err)
	}

	rspOpcode, rspPayload, ok := d.dispatch(opcode, payload, read, write)
	if !ok {
		rspOpcode, rspPayload = rspInvalid, []byte{0x00}
	}

	if err := d.send(rspOpcode, rspPayload); err != nil {
		return wrapErr(ErrCommunication, err)
	}
	return nil
}

func (d *Device) dispatch(opcode byte, payload []byte, read MemReader, write MemWriter) (rspOpcode byte, rspPayload []byte, ok bool) {
	switch opcode {
	case reqDeviceInfo:
		if len(payload) == 1 && payload[0] == propertyBCPVersion {
			return rspData, []byte{bcpVersionSupported}, true
		}

	case reqSetFlags:
		if len(payload) == 1 && payload[0] == FlagAddrInc {
			d.flags = FlagAddrInc
			return rspNone, []byte{0x00}, true
		}

	case reqSetAddress:
		if len(payload) == 8 {
			d.address = binary.BigEndian.Uint64(payload)
			return rspNone, []byte{0x00}, true
		}

	case reqReadMemory:
		if len(payload) == 1 && payload[0] <= 7 {
			n := int(payload[0]) + 1
			out := make([]byte, n)
			if read(d.address, out) == nil {
				if d.flags&FlagAddrInc != 0 {
					d.address += uint64(n)
				}
				return rspData, out, true
			}
		}

	case reqWriteMemory:
		n := len(payload)
		if write(d.address, payload) == nil {
			if d.flags&FlagAddrInc != 0 {
				d.address += uint64(n)
			}
			return rspNone, []byte{0x00}, true
		}
	}

	return 0, nil, false
}
