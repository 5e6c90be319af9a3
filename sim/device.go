// Package sim provides an in-memory printer that speaks the USB-print
// protocol. It is used by tests and by the example program when no printer
// is attached.
package sim

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

const ack byte = 0x06

// Replies sent by the simulated firmware.
const (
	ReadyLine     = "echo:SD card ok"
	DoneSaving    = "Done saving file."
	EnqueuedM84   = `echo:enqueing "M84"`
	writingToFile = "Writing to file: "
)

// Device is a simulated printer implementing transport.Transport.
//
// Numbered lines are validated like the firmware does: a checksum mismatch
// or an out-of-sequence line number is answered with an error line naming
// the last accepted line. Every accepted command is acknowledged with the
// ACK byte. Commands between M28 and M29 are stored into an on-device file.
type Device struct {
	mu sync.Mutex

	out      []byte // bytes waiting to be read by the host
	partial  []byte // unterminated inbound bytes
	lastLine int    // last accepted line number
	writing  string // file opened by M28
	fileBuf  []string
	received []string
	closed   bool

	corrupt int    // numbered lines to reject with a checksum error
	failMsg string // reply replacing the ack of the next command

	files     *xsync.MapOf[string, []string]
	readyLine string
	logger    logger.Logger
}

var _ transport.Transport = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithReadyLine replaces the line queued when the device is opened.
func WithReadyLine(line string) Option {
	return func(d *Device) { d.readyLine = line }
}

// WithLogger sets the logger of the device.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDevice creates a closed Device. Open it with Open or through Dialer.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		files:     xsync.NewMapOf[string, []string](),
		readyLine: ReadyLine,
		logger:    logger.GetLogger(),
		closed:    true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "sim")

	return d
}

// Dialer returns a transport.Dialer that opens d.
func (d *Device) Dialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, _ transport.Options) (transport.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.Open()

		return d, nil
	})
}

// Open resets the connection state, like a printer rebooting when its USB
// serial port is opened, and queues the ready line. Stored files survive.
func (d *Device) Open() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = false
	d.out = d.out[:0]
	d.partial = d.partial[:0]
	d.lastLine = 0
	d.writing = ""
	d.fileBuf = nil
	d.received = nil
	if d.readyLine != "" {
		d.reply(d.readyLine)
	}
}

// ReadByte returns the next byte the device sent. It does not wait:
// transport.ErrNoData is returned at once when nothing is pending.
func (d *Device) ReadByte(_ time.Duration) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, transport.ErrClosed
	}
	if len(d.out) == 0 {
		return 0, transport.ErrNoData
	}

	b := d.out[0]
	d.out = d.out[1:]

	return b, nil
}

// Write feeds p to the device and executes every complete line.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, transport.ErrClosed
	}

	for _, b := range p {
		if len(d.partial) == 0 && b < '\n' {
			// packed command, acknowledged as is
			d.out = append(d.out, ack)
			continue
		}
		if b != '\n' {
			d.partial = append(d.partial, b)
			continue
		}

		line := strings.TrimRight(string(d.partial), "\r")
		d.partial = d.partial[:0]
		d.handleLine(line)
	}

	return len(p), nil
}

// Close closes the device link.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.ErrClosed
	}
	d.closed = true

	return nil
}

// Send queues an unsolicited line, e.g. a temperature report.
func (d *Device) Send(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reply(line)
}

// CorruptNext makes the device reject the next n numbered lines with a
// checksum error.
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = n
}

// FailWith makes the device answer the next command with msg instead of
// executing it.
func (d *Device) FailWith(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMsg = msg
}

// File returns the content of a stored file.
func (d *Device) File(name string) ([]string, bool) {
	lines, ok := d.files.Load(name)
	if !ok {
		return nil, false
	}

	return slices.Clone(lines), true
}

// Files returns the sorted names of all stored files.
func (d *Device) Files() []string {
	names := make([]string, 0, d.files.Size())
	d.files.Range(func(name string, _ []string) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)

	return names
}

// Received returns the command lines received since Open, numbering and
// checksums stripped.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.received)
}

// LastLine returns the last accepted line number.
func (d *Device) LastLine() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastLine
}

func (d *Device) reply(line string) {
	d.out = append(d.out, line...)
	d.out = append(d.out, '\n')
}

func (d *Device) handleLine(line string) {
	if line == "" {
		return
	}

	code := line
	if nl, ok := gcode.ParseNumbered(line); ok {
		if !d.acceptNumbered(line, nl) {
			return
		}
		code = nl.Code
	}

	if d.failMsg != "" {
		d.logger.Debug("injected failure", "code", code, "reply", d.failMsg)
		d.reply(d.failMsg)
		d.failMsg = ""

		return
	}

	d.received = append(d.received, code)
	d.out = append(d.out, ack)
	d.execute(code)
}

// acceptNumbered validates checksum and sequence of a numbered line.
func (d *Device) acceptNumbered(line string, nl gcode.NumberedLine) bool {
	if d.corrupt > 0 {
		d.corrupt--
		d.reply(fmt.Sprintf("Error:checksum mismatch, Last Line: %d", d.lastLine))

		return false
	}

	if nl.HasChecksum {
		star := strings.LastIndexByte(line, '*')
		if int(gcode.Checksum(line[:star])) != nl.Checksum {
			d.reply(fmt.Sprintf("Error:checksum mismatch, Last Line: %d", d.lastLine))
			return false
		}
	}

	if strings.HasPrefix(nl.Code, "M110") {
		d.lastLine = nl.N
		return true
	}

	if nl.N != d.lastLine+1 {
		d.reply(fmt.Sprintf("Error:Line Number is not Last Line Number+1, Last Line: %d", d.lastLine))
		return false
	}
	d.lastLine = nl.N

	return true
}

func (d *Device) execute(code string) {
	word, arg, _ := strings.Cut(code, " ")

	if d.writing != "" {
		if word == "M29" {
			d.files.Store(d.writing, d.fileBuf)
			d.logger.Debug("file stored", "name", d.writing, "lines", len(d.fileBuf))
			d.writing, d.fileBuf = "", nil
			d.reply(DoneSaving)

			return
		}
		d.fileBuf = append(d.fileBuf, code)

		return
	}

	switch word {
	case "M28":
		name := strings.TrimSpace(arg)
		if name == "" {
			d.reply("open failed, File: .")
			return
		}
		d.writing, d.fileBuf = name, nil
		d.reply(writingToFile + name)
	case "M29":
		d.reply(DoneSaving)
	case "M84":
		d.reply(EnqueuedM84)
	}
}
