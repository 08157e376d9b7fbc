// Package simflash is an in-memory bootloader.Flash implementation. It
// stands in for the AVR boot_page_erase/boot_page_fill/boot_page_write
// sequence in original_source/Device/ATmega324/Bootloader/Main.c, backing
// tests and cmd/cncbootsim's device simulator.
package simflash

import "fmt"

// Flash is a fixed-size byte array, erased to 0xFF like a real NOR flash.
type Flash struct {
	mem []byte
}

// New allocates a Flash of the given size, pre-erased to 0xFF.
func New(size int) *Flash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Flash{mem: mem}
}

func (f *Flash) ReadByte(addr uint16) (byte, error) {
	if int(addr) >= len(f.mem) {
		return 0, fmt.Errorf("simflash: read out of range: 0x%04x", addr)
	}
	return f.mem[addr], nil
}

func (f *Flash) ProgramPage(pageAddr uint16, data []byte) error {
	if int(pageAddr)+len(data) > len(f.mem) {
		return fmt.Errorf("simflash: program out of range: 0x%04x+%d", pageAddr, len(data))
	}
	copy(f.mem[pageAddr:], data)
	return nil
}

// Snapshot returns a copy of the full flash contents, for test assertions.
func (f *Flash) Snapshot() []byte {
	out := make([]byte, len(f.mem))
	copy(out, f.mem)
	return out
}
