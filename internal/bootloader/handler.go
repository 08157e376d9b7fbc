// Package bootloader implements the device-side flash-programming state
// machine described in spec.md section 4.4: the mem_read/mem_write pair
// a bcp.Device dispatches to, page-buffered so a single flash-page-sized
// RAM buffer and a "current page" pointer are enough to implement
// read-modify-write semantics over whatever raw erase/program primitive
// the target exposes.
//
// Grounded on original_source/Device/ATmega324/Bootloader/Main.c's
// memRead/memWrite/readPage/writePage; the AVR boot_page_* calls are
// replaced by the Flash interface so the algorithm is target-agnostic.
package bootloader

import "sync"

// Magic BCP addresses, per spec.md section 6.
const (
	// AddrBootIDBase..+7 read back the 8-byte "BOOTLOAD" identifier.
	AddrBootIDBase uint64 = 0xFFFFFFFFFFFFFFF8
	// AddrPageCount reads the saturating committed-page counter.
	AddrPageCount uint64 = 0xFFFFFFFFFFFFFFF7
	// AddrLockRegister: write 0x01 to unlock, 0x00 to lock+commit.
	AddrLockRegister uint64 = 0x010000ACE0000010
)

// BootID is the literal 8-byte bootloader-mode identifier string.
var BootID = [8]byte{'B', 'O', 'O', 'T', 'L', 'O', 'A', 'D'}

// Flash abstracts the target's raw page-erase/program primitive. A
// single ProgramPage call erases and programs a page together,
// matching original_source's writePage, which always erases before
// refilling from writeBuffer.
type Flash interface {
	// ReadByte returns the byte currently stored at addr.
	ReadByte(addr uint16) (byte, error)
	// ProgramPage erases pageAddr's page and programs it with data
	// (len(data) == the handler's configured page size).
	ProgramPage(pageAddr uint16, data []byte) error
}

// Handler implements the device-role mem_read/mem_write pair BCP
// dispatches to. It owns exactly one page-sized scratch buffer, per
// spec.md section 3 ("Bootloader state").
type Handler struct {
	flash    Flash
	pageSize int
	pageMask uint16
	flashEnd uint16

	mu           sync.Mutex
	writeAddress uint16
	writeCount   uint8
	writeBuffer  []byte
	unlocked     bool
	outstanding  bool
}

// New constructs a Handler for a target with the given page size and
// flash end address (one past the last valid flash byte).
func New(flash Flash, pageSize int, flashEnd uint16) *Handler {
	return &Handler{
		flash:       flash,
		pageSize:    pageSize,
		pageMask:    ^uint16(pageSize - 1),
		flashEnd:    flashEnd,
		writeBuffer: make([]byte, pageSize),
	}
}

// MemRead implements bcp.MemReader.
func (h *Handler) MemRead(addr uint64, out []byte) error {
	n := len(out)

	switch {
	case addr >= AddrBootIDBase:
		offset := addr & 0x07
		if uint64(n) > 8-offset {
			return ErrOutOfRange
		}
		copy(out, BootID[offset:])
		return nil

	case addr == AddrPageCount && n == 1:
		h.mu.Lock()
		out[0] = h.writeCount
		h.mu.Unlock()
		return nil

	case addr < uint64(h.flashEnd):
		flashAddr := uint16(addr)
		for i := 0; i < n; i++ {
			b, err := h.flash.ReadByte(flashAddr + uint16(i))
			if err != nil {
				return err
			}
			out[i] = b
		}
		return nil
	}

	return ErrOutOfRange
}

// MemWrite implements bcp.MemWriter. Flash erase/program stalls the CPU
// and shares registers with the transport on the reference target;
// original_source disables interrupts for the duration. The hosted
// analogue is a mutex around the same critical section.
func (h *Handler) MemWrite(addr uint64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr == AddrLockRegister && len(data) == 1 {
		return h.lockWrite(data[0])
	}

	n := uint64(len(data))
	if addr >= uint64(h.flashEnd) || addr+n >= uint64(h.flashEnd) {
		return ErrOutOfRange
	}
	if !h.unlocked {
		return ErrLocked
	}

	target := uint16(addr)
	if target&h.pageMask != h.writeAddress&h.pageMask {
		if h.outstanding {
			if err := h.flushLocked(); err != nil {
				return err
			}
		}
		if err := h.loadPageLocked(target & h.pageMask); err != nil {
			return err
		}
	}
	h.writeAddress = target

	for _, b := range data {
		h.outstanding = true
		h.writeBuffer[h.writeAddress%uint16(h.pageSize)] = b
		h.writeAddress++

		if h.writeAddress%uint16(h.pageSize) == 0 {
			if h.outstanding {
				if err := h.flushLocked(); err != nil {
					return err
				}
			}
			if err := h.loadPageLocked(h.writeAddress); err != nil {
				return err
			}
		}
	}

	return nil
}

func (h *Handler) lockWrite(value byte) error {
	switch value {
	case 0x00:
		if h.outstanding {
			if err := h.flushLocked(); err != nil {
				return err
			}
		}
		h.unlocked = false
		return nil

	case 0x01:
		h.unlocked = true
		h.outstanding = false
		h.writeCount = 0
		h.writeAddress = 0
		return h.loadPageLocked(0)

	default:
		return ErrBadLockValue
	}
}

// flushLocked erases+programs the page currently held in writeBuffer:
// the page of the last byte written (writeAddress-1), which is the
// completed page when writeAddress has just crossed a page boundary.
func (h *Handler) flushLocked() error {
	last := h.writeAddress - 1
	pageAddr := last - (last % uint16(h.pageSize))
	if h.writeCount != 0xFF {
		h.writeCount++
	}
	h.outstanding = false
	return h.flash.ProgramPage(pageAddr, h.writeBuffer)
}

// loadPageLocked reads a full page from flash into writeBuffer, the
// read half of the handler's read-modify-write cycle.
func (h *Handler) loadPageLocked(pageAddr uint16) error {
	base := pageAddr - (pageAddr % uint16(h.pageSize))
	for i := 0; i < h.pageSize; i++ {
		b, err := h.flash.ReadByte(base + uint16(i))
		if err != nil {
			return err
		}
		h.writeBuffer[i] = b
	}
	return nil
}
