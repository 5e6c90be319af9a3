package gcode

import (
	"fmt"
	"strings"
)

// Mode selects how a job is delivered to the device.
type Mode uint8

const (
	// ModePrint executes the commands live.
	ModePrint Mode = iota
	// ModeStore writes the commands to the device's own storage.
	ModeStore
	// ModeReset prepares the short teardown sequences sent on cancel.
	ModeReset
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePrint:
		return "print"
	case ModeStore:
		return "store"
	case ModeReset:
		return "reset"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts "print" or "store" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "print":
		return ModePrint, nil
	case "store":
		return ModeStore, nil
	}

	return ModePrint, fmt.Errorf("gcode: unknown mode %q", s)
}

// Command is one queued entry: the payload written to the device and the
// optional reply prefix the device must answer with.
type Command struct {
	Payload []byte
	// Reply is empty when only the lightweight acknowledgement is expected.
	Reply string
}

// Text returns a command with a textual payload.
func Text(payload, reply string) Command {
	return Command{Payload: []byte(payload), Reply: reply}
}

// IsPacked reports whether the payload is a binary packed command, i.e.
// starts with a control byte below '\n'. Packed commands go out without a
// line terminator.
func (c Command) IsPacked() bool {
	return len(c.Payload) > 0 && c.Payload[0] < '\n'
}

// Wire returns the bytes written to the device for c.
func (c Command) Wire() []byte {
	if c.IsPacked() || (len(c.Payload) > 0 && c.Payload[len(c.Payload)-1] == '\n') {
		return c.Payload
	}

	wire := make([]byte, len(c.Payload)+1)
	copy(wire, c.Payload)
	wire[len(c.Payload)] = '\n'

	return wire
}

// String renders the payload for logs; packed payloads are shown as hex.
func (c Command) String() string {
	if c.IsPacked() {
		return fmt.Sprintf("0x%x", c.Payload)
	}

	return strings.TrimRight(string(c.Payload), "\r\n")
}
