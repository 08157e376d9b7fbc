package ihex

// Code identifies the category of an ihex error, matching the taxonomy
// in original_source/Host/IHex.c's IHex_GetErrorString lookup table.
type Code int

const (
	ErrOpen Code = iota
	ErrReset
	ErrNoStartAddress
	ErrRead
	ErrRecordSize
	ErrRecordField
	ErrChecksum
)

var messages = map[Code]string{
	ErrOpen:           "failed to open Intel HEX file",
	ErrReset:          "failed to reset Intel HEX file",
	ErrNoStartAddress: "start address not found",
	ErrRead:           "record read error",
	ErrRecordSize:     "invalid record size",
	ErrRecordField:    "invalid record field",
	ErrChecksum:       "bad record checksum",
}

type Error struct {
	Code  Code
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return messages[e.Code] + ": " + e.cause.Error()
	}
	return messages[e.Code]
}

func (e *Error) Unwrap() error { return e.cause }

func wrapErr(code Code, cause error) error {
	return &Error{Code: code, cause: cause}
}
