package um2usb

import (
	"errors"
	"strings"
	"time"

	"github.com/arloliu/go-um2usb/transport"
)

type frameKind uint8

const (
	frameNone     frameKind = iota // nothing read
	frameFragment                  // bytes read, no terminator yet
	frameLine                      // newline-terminated line
	frameAck                       // the ACK control byte
)

type frame struct {
	kind frameKind
	raw  string
}

// text returns the line without its terminator.
func (f frame) text() string {
	return strings.TrimRight(f.raw, "\r\n")
}

// lineFramer assembles inbound bytes into lines, carrying an unterminated
// fragment across calls.
//
// The ACK byte is a frame of its own and leaves a carried fragment intact.
type lineFramer struct {
	partial []byte
	timeout time.Duration
	budget  int
}

func newLineFramer(timeout time.Duration, budget int) lineFramer {
	return lineFramer{timeout: timeout, budget: budget}
}

// next reads from t until a newline, an ACK, an empty read, a read error or
// the byte budget ends the attempt. A read error ends the attempt like an
// empty read; it is returned so the caller can log it.
func (lf *lineFramer) next(t transport.Transport) (frame, error) {
	read := 0
	for read < lf.budget {
		b, err := t.ReadByte(lf.timeout)
		if err != nil {
			if errors.Is(err, transport.ErrNoData) {
				err = nil
			}
			return lf.pending(read), err
		}
		read++

		if b == ACK {
			return frame{kind: frameAck, raw: string(ACK)}, nil
		}

		lf.partial = append(lf.partial, b)
		if b == '\n' {
			line := string(lf.partial)
			lf.partial = lf.partial[:0]

			return frame{kind: frameLine, raw: line}, nil
		}
	}

	return lf.pending(read), nil
}

func (lf *lineFramer) pending(read int) frame {
	if read == 0 {
		return frame{kind: frameNone}
	}

	return frame{kind: frameFragment, raw: string(lf.partial)}
}

// fragment returns the carried, unterminated bytes.
func (lf *lineFramer) fragment() string {
	return string(lf.partial)
}

func (lf *lineFramer) reset() {
	lf.partial = lf.partial[:0]
}
