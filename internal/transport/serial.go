package transport

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/term"
)

// ErrCancelled is returned when a pending Serial transfer was aborted by
// RequestShutdown before it completed.
var ErrCancelled = errors.New("transport: cancelled by exit signal")

// Serial is a Transport backed by a character-device node — the shape the
// USB<->I2C bridge chip presents to the host OS. The bridge firmware,
// HID/vendor endpoint plumbing, and libusb control-transfer details are
// out of scope; Serial only needs the byte-stream contract every such
// bridge ultimately reduces to.
//
// Retries are this layer's business, not BCP's: spec.md's error-handling
// policy allows exactly one retrying layer, "the USB layer (5 attempts
// with short backoff)", and forbids retry anywhere else.
type Serial struct {
	t        *term.Term
	attempts int
	backoff  time.Duration
	cancel   atomic.Bool
}

// Open opens tty at the given baud rate in raw mode.
func Open(tty string, baud int) (*Serial, error) {
	t, err := term.Open(tty, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	return &Serial{t: t, attempts: 5, backoff: 10 * time.Millisecond}, nil
}

// RequestShutdown causes every subsequent transfer to fail immediately,
// mirroring original_source/Host/Main.c's sig_atomic_t exitSignal hook.
func (s *Serial) RequestShutdown() {
	s.cancel.Store(true)
}

func (s *Serial) Close() error {
	return s.t.Close()
}

func (s *Serial) ReadExact(buf []byte) error {
	return s.retry(func() error {
		_, err := io.ReadFull(s.t, buf)
		return err
	})
}

func (s *Serial) WriteExact(buf []byte) error {
	return s.retry(func() error {
		n, err := s.t.Write(buf)
		if err != nil {
			return err
		}
		if n != len(buf) {
			return io.ErrShortWrite
		}
		return nil
	})
}

func (s *Serial) retry(op func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if s.cancel.Load() {
			return ErrCancelled
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		time.Sleep(s.backoff)
	}
	return lastErr
}
