package bootloader

import (
	"testing"

	"github.com/newrupturesystems/cnc1/internal/bootloader/simflash"
	"github.com/stretchr/testify/require"
)

const (
	testPageSize = 128
	testFlashEnd = 0x8000
)

func newTestHandler() (*Handler, *simflash.Flash) {
	flash := simflash.New(testFlashEnd)
	return New(flash, testPageSize, testFlashEnd), flash
}

func TestBootIdentifierRead(t *testing.T) {
	h, _ := newTestHandler()

	out := make([]byte, 8)
	require.NoError(t, h.MemRead(AddrBootIDBase, out))
	require.Equal(t, "BOOTLOAD", string(out))

	// A window into the middle of the identifier.
	out3 := make([]byte, 3)
	require.NoError(t, h.MemRead(AddrBootIDBase+2, out3))
	require.Equal(t, "OTL", string(out3))

	// Overreading the 8-byte window is an error.
	out9 := make([]byte, 2)
	require.Error(t, h.MemRead(AddrBootIDBase+7, out9))
}

func TestPageCountStartsZero(t *testing.T) {
	h, _ := newTestHandler()
	out := make([]byte, 1)
	require.NoError(t, h.MemRead(AddrPageCount, out))
	require.Equal(t, byte(0), out[0])
}

func TestWriteRequiresUnlock(t *testing.T) {
	h, _ := newTestHandler()
	err := h.MemWrite(0x0000, []byte{0xAA})
	require.Error(t, err)
}

func TestUnlockWriteLockRoundTrip(t *testing.T) {
	h, _ := newTestHandler()

	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x01}))

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	require.NoError(t, h.MemWrite(0x0000, data))

	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x00}))

	out := make([]byte, 1)
	require.NoError(t, h.MemRead(AddrPageCount, out))
	require.Equal(t, byte(1), out[0], "partial page + lock commits exactly one page")
}

// TestPartialPageCommitPreservesRest is end-to-end scenario 5 from
// spec.md section 8: writing 10 bytes at a page-aligned address then
// locking leaves those 10 bytes followed by the page's prior contents.
func TestPartialPageCommitPreservesRest(t *testing.T) {
	h, flash := newTestHandler()

	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x01}))

	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}
	require.NoError(t, h.MemWrite(0x0000, data))
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x00}))

	snap := flash.Snapshot()
	require.Equal(t, data, snap[:10])
	for i := 10; i < testPageSize; i++ {
		require.Equal(t, byte(0xFF), snap[i], "byte %d should be untouched erased flash", i)
	}

	out := make([]byte, 1)
	require.NoError(t, h.MemRead(AddrPageCount, out))
	require.Equal(t, byte(1), out[0])
}

func TestWriteSpanningTwoPages(t *testing.T) {
	h, flash := newTestHandler()
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x01}))

	data := make([]byte, testPageSize+8)
	for i := range data {
		data[i] = byte(i)
	}
	// Split into <=8-byte chunks, as the host role would.
	for off := 0; off < len(data); off += 8 {
		end := off + 8
		if end > len(data) {
			end = len(data)
		}
		require.NoError(t, h.MemWrite(0x0000+uint64(off), data[off:end]))
	}
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x00}))

	snap := flash.Snapshot()
	require.Equal(t, data, snap[:len(data)])

	out := make([]byte, 1)
	require.NoError(t, h.MemRead(AddrPageCount, out))
	require.Equal(t, byte(2), out[0], "crossing the page boundary commits two pages")
}

func TestPageCountSaturates(t *testing.T) {
	h, _ := newTestHandler()
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x01}))
	h.writeCount = 0xFE // pretend 0xFE pages already committed this unlock

	// A full page triggers the automatic boundary flush (0xFE -> 0xFF).
	full := make([]byte, testPageSize)
	require.NoError(t, h.MemWrite(0x0000, full))
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x00}))

	out := make([]byte, 1)
	require.NoError(t, h.MemRead(AddrPageCount, out))
	require.Equal(t, byte(0xFF), out[0], "counter saturates instead of wrapping")
}

func TestWriteAtOrPastFlashEndIsRejected(t *testing.T) {
	h, _ := newTestHandler()
	require.NoError(t, h.MemWrite(AddrLockRegister, []byte{0x01}))
	require.Error(t, h.MemWrite(testFlashEnd-2, []byte{0x01, 0x02, 0x03}))
}

func TestBadLockValueIsError(t *testing.T) {
	h, _ := newTestHandler()
	require.Error(t, h.MemWrite(AddrLockRegister, []byte{0x42}))
}
