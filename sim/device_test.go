package sim

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()

	dev := NewDevice(WithLogger(logger.NewSlogWithWriter(io.Discard, logger.DebugLevel, false, false)))
	tr, err := dev.Dialer().Dial(context.Background(), transport.Options{PortName: "sim", BaudRate: 250000})
	require.NoError(t, err)
	require.Same(t, dev, tr)

	return dev
}

// readAll drains everything the device sent.
func readAll(dev *Device) string {
	var out []byte
	for {
		b, err := dev.ReadByte(time.Millisecond)
		if err != nil {
			return string(out)
		}
		out = append(out, b)
	}
}

func send(t *testing.T, dev *Device, line string) {
	t.Helper()

	_, err := dev.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func TestDevice_OpenSendsReadyLine(t *testing.T) {
	dev := newTestDevice(t)
	assert.Equal(t, ReadyLine+"\n", readAll(dev))

	_, err := dev.ReadByte(time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrNoData)

	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Close(), transport.ErrClosed)
	_, err = dev.ReadByte(time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, err = dev.Write([]byte("G28\n"))
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestDevice_DialCanceled(t *testing.T) {
	dev := NewDevice()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dev.Dialer().Dial(ctx, transport.Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDevice_NumberedLines(t *testing.T) {
	dev := newTestDevice(t)
	readAll(dev)

	send(t, dev, gcode.Numbered(0, "M110"))
	send(t, dev, gcode.Numbered(1, "G28"))
	assert.Equal(t, "\x06\x06", readAll(dev))
	assert.Equal(t, 1, dev.LastLine())

	// skipped line number
	send(t, dev, gcode.Numbered(3, "G1 X1"))
	assert.Equal(t, "Error:Line Number is not Last Line Number+1, Last Line: 1\n", readAll(dev))

	// bad checksum
	send(t, dev, "N2 G1 X1*1")
	assert.Equal(t, "Error:checksum mismatch, Last Line: 1\n", readAll(dev))

	dev.CorruptNext(1)
	send(t, dev, gcode.Numbered(2, "G1 X1"))
	assert.Equal(t, "Error:checksum mismatch, Last Line: 1\n", readAll(dev))

	send(t, dev, gcode.Numbered(2, "G1 X1"))
	assert.Equal(t, "\x06", readAll(dev))
	assert.Equal(t, []string{"M110", "G28", "G1 X1"}, dev.Received())
}

func TestDevice_StoreFile(t *testing.T) {
	dev := newTestDevice(t)
	readAll(dev)

	send(t, dev, gcode.Numbered(0, "M110"))
	send(t, dev, gcode.Numbered(1, "M28 part.gco"))
	assert.Equal(t, "\x06\x06Writing to file: part.gco\n", readAll(dev))

	send(t, dev, gcode.Numbered(2, "G28"))
	send(t, dev, gcode.Numbered(3, "M84"))
	assert.Equal(t, "\x06\x06", readAll(dev), "commands are stored, not executed")

	send(t, dev, gcode.Numbered(4, "M29 part.gco"))
	assert.Equal(t, "\x06"+DoneSaving+"\n", readAll(dev))

	lines, ok := dev.File("part.gco")
	require.True(t, ok)
	assert.Equal(t, []string{"G28", "M84"}, lines)
	assert.Equal(t, []string{"part.gco"}, dev.Files())

	_, ok = dev.File("missing.gco")
	assert.False(t, ok)

	// files survive a reopen
	dev.Open()
	assert.Equal(t, []string{"part.gco"}, dev.Files())
}

func TestDevice_ExecuteAndFailures(t *testing.T) {
	dev := newTestDevice(t)
	readAll(dev)

	send(t, dev, "M84")
	assert.Equal(t, "\x06"+EnqueuedM84+"\n", readAll(dev))

	send(t, dev, "M28")
	assert.Equal(t, "\x06open failed, File: .\n", readAll(dev))

	dev.FailWith("Error:Printer halted. kill() called!")
	send(t, dev, "G28")
	assert.Equal(t, "Error:Printer halted. kill() called!\n", readAll(dev))

	send(t, dev, "G28")
	assert.Equal(t, "\x06", readAll(dev))

	_, err := dev.Write([]byte{0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, "\x06\x06", readAll(dev))

	dev.Send("T:210.0 /210.0")
	assert.Equal(t, "T:210.0 /210.0\n", readAll(dev))
}

func TestDevice_WriteInPieces(t *testing.T) {
	dev := newTestDevice(t)
	readAll(dev)

	_, err := dev.Write([]byte("G2"))
	require.NoError(t, err)
	assert.Empty(t, readAll(dev))

	_, err = dev.Write([]byte("8\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "\x06", readAll(dev))
	assert.Equal(t, []string{"G28"}, dev.Received())
}
