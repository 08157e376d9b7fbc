package bcp

import (
	"bytes"
	"net"
	"testing"

	"github.com/newrupturesystems/cnc1/internal/transport"
)

// memModel is a minimal in-memory target for the device role, enough to
// exercise HandleRequest's dispatch without pulling in internal/bootloader.
type memModel struct {
	data [64]byte
}

func (m *memModel) read(addr uint64, out []byte) error {
	if addr+uint64(len(out)) > uint64(len(m.data)) {
		return errInvalidSize
	}
	copy(out, m.data[addr:])
	return nil
}

func (m *memModel) write(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(m.data)) {
		return errInvalidSize
	}
	copy(m.data[addr:], data)
	return nil
}

// startDevice runs a device-role HandleRequest loop against one end of a
// net.Pipe until the pipe closes, returning the host-facing connection.
func startDevice(t *testing.T, m *memModel) net.Conn {
	t.Helper()
	hostConn, devConn := net.Pipe()

	dev := OpenDevice(transport.NewPipe(devConn, devConn))
	go func() {
		for {
			if err := dev.HandleRequest(m.read, m.write); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { hostConn.Close(); devConn.Close() })
	return hostConn
}

// TestHostDeviceHandshake exercises spec.md section 8: OpenHost's
// version handshake must succeed against a real device-role responder.
func TestHostDeviceHandshake(t *testing.T) {
	m := &memModel{}
	conn := startDevice(t, m)

	host, err := OpenHost(transport.NewPipe(conn, conn))
	if err != nil {
		t.Fatalf("OpenHost: %v", err)
	}
	_ = host
}

// TestAutoIncrementReadWrite is the "auto-increment" end-to-end scenario
// from spec.md section 8: with FlagAddrInc set, successive WriteMemory
// and ReadMemory calls advance the device's address without an explicit
// SetAddress between them.
func TestAutoIncrementReadWrite(t *testing.T) {
	m := &memModel{}
	conn := startDevice(t, m)

	host, err := OpenHost(transport.NewPipe(conn, conn))
	if err != nil {
		t.Fatalf("OpenHost: %v", err)
	}

	if err := host.SetAddress(0x10); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if err := host.SetFlags(FlagAddrInc); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}

	first := []byte{0x01, 0x02, 0x03, 0x04}
	second := []byte{0x05, 0x06}
	if err := host.WriteMemory(first); err != nil {
		t.Fatalf("WriteMemory first: %v", err)
	}
	if err := host.WriteMemory(second); err != nil {
		t.Fatalf("WriteMemory second: %v", err)
	}

	want := append(append([]byte{}, first...), second...)
	if got := m.data[0x10 : 0x10+len(want)]; !bytes.Equal(got, want) {
		t.Fatalf("device memory = %x, want %x", got, want)
	}

	// Re-point at 0x10 and read back both chunks with auto-increment,
	// without an intervening SetAddress.
	if err := host.SetAddress(0x10); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	readBack := make([]byte, len(first))
	if err := host.ReadMemory(readBack); err != nil {
		t.Fatalf("ReadMemory first: %v", err)
	}
	if !bytes.Equal(readBack, first) {
		t.Fatalf("readBack first = %x, want %x", readBack, first)
	}
	readBack2 := make([]byte, len(second))
	if err := host.ReadMemory(readBack2); err != nil {
		t.Fatalf("ReadMemory second (no SetAddress): %v", err)
	}
	if !bytes.Equal(readBack2, second) {
		t.Fatalf("readBack second = %x, want %x", readBack2, second)
	}
}

// TestWithoutAddrIncAddressStaysPut confirms the flag is opt-in: without
// FlagAddrInc, repeated writes land on the same address.
func TestWithoutAddrIncAddressStaysPut(t *testing.T) {
	m := &memModel{}
	conn := startDevice(t, m)

	host, err := OpenHost(transport.NewPipe(conn, conn))
	if err != nil {
		t.Fatalf("OpenHost: %v", err)
	}
	if err := host.SetAddress(0x00); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if err := host.WriteMemory([]byte{0x11}); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if err := host.WriteMemory([]byte{0x22}); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if m.data[0] != 0x22 {
		t.Fatalf("data[0] = %#02x, want 0x22 (second write overwrote the first)", m.data[0])
	}
}
