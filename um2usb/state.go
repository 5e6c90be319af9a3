package um2usb

import "fmt"

type expectKind uint8

const (
	expectNone expectKind = iota
	expectAck
	expectReply
	expectAckReply
)

// Expectation is what the driver waits for before it may send the next
// command: the ACK byte, a reply starting with a given prefix, or both.
//
// The zero value expects nothing.
type Expectation struct {
	kind  expectKind
	reply string
}

// expectReplyOnly returns an expectation for a reply prefix alone.
func expectReplyOnly(prefix string) Expectation {
	if prefix == "" {
		return Expectation{}
	}

	return Expectation{kind: expectReply, reply: prefix}
}

// afterSend returns the expectation right after a command with the given
// reply prefix went out.
func afterSend(reply string) Expectation {
	if reply == "" {
		return Expectation{kind: expectAck}
	}

	return Expectation{kind: expectAckReply, reply: reply}
}

// Pending reports whether anything is still awaited.
func (e Expectation) Pending() bool { return e.kind != expectNone }

// AwaitingAck reports whether the ACK byte is outstanding.
func (e Expectation) AwaitingAck() bool {
	return e.kind == expectAck || e.kind == expectAckReply
}

// AwaitingReply returns the outstanding reply prefix, if any.
func (e Expectation) AwaitingReply() (string, bool) {
	if e.kind == expectReply || e.kind == expectAckReply {
		return e.reply, true
	}

	return "", false
}

func (e Expectation) ackReceived() Expectation {
	switch e.kind {
	case expectAck:
		return Expectation{}
	case expectAckReply:
		return Expectation{kind: expectReply, reply: e.reply}
	default:
		return e
	}
}

func (e Expectation) replyMatched() Expectation {
	switch e.kind {
	case expectReply:
		return Expectation{}
	case expectAckReply:
		return Expectation{kind: expectAck}
	default:
		return e
	}
}

func (e Expectation) String() string {
	switch e.kind {
	case expectAck:
		return "ack"
	case expectReply:
		return fmt.Sprintf("reply(%q)", e.reply)
	case expectAckReply:
		return fmt.Sprintf("ack+reply(%q)", e.reply)
	default:
		return "none"
	}
}

// Phase is the driver state derived from the transport, job status and
// expectation.
type Phase uint8

const (
	// PhaseIdle: no transport, or the job ended and its monitor window closed.
	PhaseIdle Phase = iota
	// PhaseOpening: transport open, job loaded but not started.
	PhaseOpening
	// PhaseSending: running with nothing outstanding.
	PhaseSending
	// PhaseAwaitingAck: running, the ACK of the last command is outstanding.
	PhaseAwaitingAck
	// PhaseAwaitingReply: running, only a textual reply is outstanding.
	PhaseAwaitingReply
	// PhasePostMonitor: job ended, trailing device output is still drained.
	PhasePostMonitor
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOpening:
		return "opening"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingAck:
		return "awaiting-ack"
	case PhaseAwaitingReply:
		return "awaiting-reply"
	case PhasePostMonitor:
		return "post-monitor"
	default:
		return "unknown"
	}
}
