package transport

import "io"

// Pipe adapts any io.Reader/io.Writer pair (e.g. net.Pipe, an in-memory
// bytes buffer pair) into a Transport. It is the transport used by unit
// tests and by cmd/cncbootsim's loopback mode.
type Pipe struct {
	R io.Reader
	W io.Writer
}

func NewPipe(r io.Reader, w io.Writer) *Pipe {
	return &Pipe{R: r, W: w}
}

func (p *Pipe) ReadExact(buf []byte) error {
	_, err := io.ReadFull(p.R, buf)
	return err
}

func (p *Pipe) WriteExact(buf []byte) error {
	n, err := p.W.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
