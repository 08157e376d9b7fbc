// Package flashsession is the host-side orchestrator described in
// spec.md section 4.6: it opens an Intel-HEX file, confirms the device
// is in bootloader mode, unlocks programming, and drives a
// write-then-verify pass over BCP with progress reporting. Grounded on
// original_source/Host/Flash.c.
package flashsession

import (
	"bytes"

	"github.com/newrupturesystems/cnc1/internal/bcp"
	"github.com/newrupturesystems/cnc1/internal/bootloader"
	"github.com/newrupturesystems/cnc1/internal/ihex"
)

// Progress is invoked periodically during Write/Verify.
type Progress func()

// Session is the host-side flash orchestrator. Between Open and Close
// the device is known to be in bootloader mode with flash unlocked; a
// successful Write re-locks (commits). A failure leaves the device
// unlocked for the next tool run to fix — the session does not attempt
// to re-lock on failure (spec.md section 7).
type Session struct {
	file *ihex.Reader
	bcp  *bcp.Host
	size uint32
}

// Open opens the Intel-HEX file at path, verifies the device reports
// itself in bootloader mode, and unlocks programming.
func Open(h *bcp.Host, path string) (*Session, error) {
	file, err := ihex.Open(path)
	if err != nil {
		return nil, wrapErr(ErrOpenHexFile, err)
	}

	var id [8]byte
	if err := h.SetAddress(bootloader.AddrBootIDBase); err != nil {
		file.Close()
		return nil, wrapErr(ErrNotInFlashMode, err)
	}
	if err := h.ReadMemory(id[:]); err != nil || !bytes.Equal(id[:], bootloader.BootID[:]) {
		file.Close()
		return nil, wrapErr(ErrNotInFlashMode, err)
	}

	if err := h.SetAddress(bootloader.AddrLockRegister); err != nil {
		file.Close()
		return nil, wrapErr(ErrUnlock, err)
	}
	if err := h.WriteMemory([]byte{0x01}); err != nil {
		file.Close()
		return nil, wrapErr(ErrUnlock, err)
	}

	size, err := file.TotalSize()
	if err != nil {
		file.Close()
		return nil, wrapErr(ErrHexFileSize, err)
	}

	return &Session{file: file, bcp: h, size: size}, nil
}

// Close releases the Intel-HEX file handle.
func (s *Session) Close() error {
	return s.file.Close()
}

// GetSize reports the device's committed-page counter and the total
// byte count of the HEX file's data records.
func (s *Session) GetSize() (pages uint8, bytes uint32, err error) {
	var buf [1]byte
	if err := s.bcp.SetAddress(bootloader.AddrPageCount); err != nil {
		return 0, 0, wrapErr(ErrPagesWritten, err)
	}
	if err := s.bcp.ReadMemory(buf[:]); err != nil {
		return 0, 0, wrapErr(ErrPagesWritten, err)
	}
	return buf[0], s.size, nil
}

// Write streams the HEX file to the device and commits it, calling cb
// roughly every ratePct percent of progress (0 disables callbacks).
func (s *Session) Write(cb Progress, ratePct uint8) error {
	return s.writeVerify(cb, ratePct, false)
}

// Verify re-walks the HEX file, reading back and comparing device flash.
func (s *Session) Verify(cb Progress, ratePct uint8) error {
	return s.writeVerify(cb, ratePct, true)
}

func (s *Session) writeVerify(cb Progress, ratePct uint8, verify bool) error {
	if err := s.file.Reset(); err != nil {
		return wrapErr(ErrSetup, err)
	}
	if err := s.bcp.SetAddress(0); err != nil {
		return wrapErr(ErrSetup, err)
	}
	if err := s.bcp.SetFlags(bcp.FlagAddrInc); err != nil {
		return wrapErr(ErrSetup, err)
	}

	var lastAddress uint32
	var rwSize uint32
	var updates uint8
	var scratch [8]byte

	for {
		addr, data, size, err := s.file.NextData()
		if err != nil {
			return wrapErr(ErrDeviceIO, err)
		}

		if data == nil {
			if !verify {
				if err := s.bcp.SetAddress(bootloader.AddrLockRegister); err != nil {
					return wrapErr(ErrCommit, err)
				}
				if err := s.bcp.WriteMemory([]byte{0x00}); err != nil {
					return wrapErr(ErrCommit, err)
				}
			}
			return nil
		}
		if size == 0 {
			continue
		}

		if addr != lastAddress {
			if err := s.bcp.SetAddress(uint64(addr)); err != nil {
				return wrapErr(ErrDeviceIO, err)
			}
			lastAddress = addr
		}
		lastAddress += uint32(size)

		for size > 0 {
			chunk := size
			if chunk > 8 {
				chunk = 8
			}
			piece := data[:chunk]

			if verify {
				buf := scratch[:chunk]
				if err := s.bcp.ReadMemory(buf); err != nil {
					return wrapErr(ErrDeviceIO, err)
				}
				if !bytes.Equal(buf, piece) {
					return wrapErr(ErrVerifyMismatch, nil)
				}
			} else {
				if err := s.bcp.WriteMemory(piece); err != nil {
					return wrapErr(ErrDeviceIO, err)
				}
			}

			data = data[chunk:]
			size -= chunk
			rwSize += uint32(chunk)

			if ratePct != 0 {
				for updates != uint8((uint64(rwSize)*100/uint64(s.size))/uint64(ratePct)) {
					if cb != nil {
						cb()
					}
					updates++
				}
			}
		}
	}
}
