package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// NetDialer opens a TCP (or other net) connection to a serial bridge such
// as ser2net. Options.PortName is the dial address; the baud rate is set on
// the bridge side and only validated here.
type NetDialer struct {
	// Network defaults to "tcp".
	Network string
	// DialTimeout defaults to 3 seconds.
	DialTimeout time.Duration
}

var _ Dialer = NetDialer{}

const defaultDialTimeout = 3 * time.Second

func (d NetDialer) Dial(ctx context.Context, opts Options) (Transport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	network := d.Network
	if network == "" {
		network = "tcp"
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, network, opts.PortName)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", network, opts.PortName, err)
	}

	return NewConn(conn, opts.WriteTimeout), nil
}

type connTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
	closed       bool
}

// NewConn wraps a net.Conn as a Transport. Reads use read deadlines; writes
// use writeTimeout as a deadline when it is positive.
func NewConn(conn net.Conn, writeTimeout time.Duration) Transport {
	return &connTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *connTransport) ReadByte(timeout time.Duration) (byte, error) {
	if t.closed {
		return 0, ErrClosed
	}

	// bytes already buffered need no deadline
	if t.reader.Buffered() == 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}

	b, err := t.reader.ReadByte()
	if err != nil {
		if isTimeout(err) {
			return 0, ErrNoData
		}
		return 0, err
	}

	return b, nil
}

func (t *connTransport) Write(p []byte) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return writeAll(t.conn, p)
}

func (t *connTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	return t.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

func writeAll(w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}

	return written, nil
}
