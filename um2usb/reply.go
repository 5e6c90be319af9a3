package um2usb

import (
	"strconv"
	"strings"

	"github.com/arloliu/go-um2usb/gcode"
)

// ACK is the lightweight acknowledgement control byte. The device sends it
// without a line terminator when it accepted a command.
const ACK byte = 0x06

// End tokens: reply prefixes after which the device considers a job finished.
const (
	// EndPrintToken is echoed once the final motor-disable command was
	// executed.
	EndPrintToken = `echo:enqueing "M84"`
	// EndStoreToken is sent once the job was written to device storage.
	EndStoreToken = gcode.ReplyDoneSaving
)

const (
	errorMarker    = "Error:"
	lastLineMarker = "Last Line"
)

// fatalTokens are device messages that stop the job. A line that also
// carries lastLineMarker is a resend request instead.
var fatalTokens = []string{errorMarker, "cold extrusion", "SD init fail", "open failed"}

var (
	// storeTeardown ends an on-device file write.
	storeTeardown = []string{"M29"}
	// printReset returns the device to a safe idle condition.
	printReset = []string{"M29", "G28", "M84", "M104 S0", "M140 S0"}
)

// EndTokens returns the reply prefixes that terminate a job in mode.
func EndTokens(mode gcode.Mode) []string {
	if mode == gcode.ModeStore {
		return []string{EndStoreToken, EndPrintToken}
	}

	return []string{EndPrintToken}
}

// TeardownSequence returns the commands sent when a job in mode is canceled.
func TeardownSequence(mode gcode.Mode) []string {
	if mode == gcode.ModeStore {
		return append([]string(nil), storeTeardown...)
	}

	return append([]string(nil), printReset...)
}

type replyKind uint8

const (
	replyNormal replyKind = iota
	replyResend           // line-number or checksum mismatch, recoverable
	replyFatal            // device condition that stops the job
)

func (k replyKind) String() string {
	switch k {
	case replyResend:
		return "resend"
	case replyFatal:
		return "fatal"
	default:
		return "normal"
	}
}

type reply struct {
	kind replyKind
	// lastLine is the last line number the device confirmed; valid for
	// replyResend only.
	lastLine int
}

// classify inspects a completed inbound line for error markers.
//
// Resend requests look like
//
//	Error:Line Number is not Last Line Number+1, Last Line: 9
//	Error:checksum mismatch, Last Line: 71388
//
// A resend line whose line number cannot be parsed is treated as fatal.
func classify(line string) reply {
	if strings.Contains(line, errorMarker) && strings.Contains(line, lastLineMarker) {
		if n, ok := parseLastLine(line); ok {
			return reply{kind: replyResend, lastLine: n}
		}

		return reply{kind: replyFatal}
	}

	for _, token := range fatalTokens {
		if strings.Contains(line, token) {
			return reply{kind: replyFatal}
		}
	}

	return reply{kind: replyNormal}
}

func parseLastLine(line string) (int, bool) {
	i := strings.LastIndex(line, lastLineMarker)
	rest := strings.TrimLeft(line[i+len(lastLineMarker):], ": \t")
	rest = strings.TrimSpace(rest)

	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// matchEndToken returns the end token line starts with, if any.
func matchEndToken(mode gcode.Mode, line string) (string, bool) {
	for _, token := range EndTokens(mode) {
		if strings.HasPrefix(line, token) {
			return token, true
		}
	}

	return "", false
}
