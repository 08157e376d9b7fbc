package bootloader

import "errors"

// Errors returned by Handler.MemRead/MemWrite. These map onto bcp's
// device role as plain callback failures (spec.md section 4.3: "Any
// other combination or a callback failure yields INVALID").
var (
	ErrOutOfRange   = errors.New("bootloader: address out of range")
	ErrLocked       = errors.New("bootloader: flash is locked")
	ErrBadLockValue = errors.New("bootloader: invalid lock register value")
)
