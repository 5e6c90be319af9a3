package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialDialer opens a local serial port with go.bug.st/serial.
type SerialDialer struct {
	// Mode overrides the line settings. When nil the port is opened 8N1 at
	// Options.BaudRate.
	Mode *serial.Mode
}

var _ Dialer = SerialDialer{}

// Dial opens opts.PortName and applies opts.ReadTimeout.
//
// go.bug.st/serial has no write deadline, so opts.WriteTimeout is not
// enforced on serial ports.
func (d SerialDialer) Dial(ctx context.Context, opts Options) (Transport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: opts.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(opts.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", opts.PortName, err)
	}

	st := &serialTransport{port: port, name: opts.PortName}
	if opts.ReadTimeout > 0 {
		if err := st.setReadTimeout(opts.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("transport: set read timeout on %s: %w", opts.PortName, err)
		}
	}

	return st, nil
}

type serialTransport struct {
	port        serial.Port
	name        string
	readTimeout time.Duration
	buf         [1]byte
	closed      bool
}

func (t *serialTransport) setReadTimeout(d time.Duration) error {
	if d == t.readTimeout {
		return nil
	}
	if err := t.port.SetReadTimeout(d); err != nil {
		return err
	}
	t.readTimeout = d

	return nil
}

// ReadByte relies on the port read timeout: a Read returning zero bytes
// without error means the timeout elapsed.
func (t *serialTransport) ReadByte(timeout time.Duration) (byte, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if err := t.setReadTimeout(timeout); err != nil {
		return 0, err
	}

	n, err := t.port.Read(t.buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoData
	}

	return t.buf[0], nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}

	return writeAll(t.port, p)
}

func (t *serialTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	return t.port.Close()
}

func (t *serialTransport) String() string {
	return "serial:" + t.name
}
