// Package transport defines the byte-stream contract the driver needs from a
// device link and provides serial-port and net.Conn implementations.
//
// A Transport is owned by exactly one driver between a successful Dial and
// Close; implementations are not goroutine-safe.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData is returned by ReadByte when no byte arrived within the timeout.
	ErrNoData = errors.New("transport: no data")

	// ErrClosed is returned when a closed Transport is used.
	ErrClosed = errors.New("transport: closed")

	// ErrNoPortName is returned by a Dialer when Options.PortName is empty.
	ErrNoPortName = errors.New("transport: port name is required")

	// ErrInvalidBaudRate is returned by a Dialer for a non-positive baud rate.
	ErrInvalidBaudRate = errors.New("transport: invalid baud rate")
)

// Transport is a duplex byte stream to a device.
type Transport interface {
	// ReadByte reads a single byte, waiting at most timeout. It returns
	// ErrNoData when the line stays silent for the whole timeout.
	ReadByte(timeout time.Duration) (byte, error)
	// Write writes all of p to the device.
	Write(p []byte) (int, error)
	// Close releases the underlying link.
	Close() error
}

// Options describe the link a Dialer opens.
type Options struct {
	// PortName is the serial device path (e.g. "/dev/ttyACM0") or, for a
	// NetDialer, the "host:port" address of a serial bridge.
	PortName string
	// BaudRate is the serial line speed.
	BaudRate int
	// ReadTimeout is the default per-byte read timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single Write where the link supports it.
	WriteTimeout time.Duration
}

func (o Options) validate() error {
	if o.PortName == "" {
		return ErrNoPortName
	}
	if o.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}

	return nil
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Transport, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts Options) (Transport, error)

// Dial calls f(ctx, opts).
func (f DialerFunc) Dial(ctx context.Context, opts Options) (Transport, error) {
	return f(ctx, opts)
}
