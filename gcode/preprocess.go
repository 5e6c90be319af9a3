package gcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reply prefixes produced by the default preprocessor.
const (
	ReplyWritingFile = "Writing to file"
	ReplyDoneSaving  = "Done saving"
)

// DefaultStoreFile is the on-device file name used by ModeStore.
const DefaultStoreFile = "um2usb.gco"

var (
	// ErrUnsupportedMode is returned for a Mode the preprocessor cannot prepare.
	ErrUnsupportedMode = errors.New("gcode: unsupported mode")
	// ErrInvalidStoreFile is returned for an empty or multi-word store file name.
	ErrInvalidStoreFile = errors.New("gcode: invalid store file name")
)

// Preprocessor turns a raw instruction stream into the commands of a job.
type Preprocessor interface {
	Prepare(mode Mode, raw []string) ([]Command, Stats, error)
}

// Stats summarizes one Prepare call.
type Stats struct {
	Mode          Mode
	InputLines    int
	Skipped       int
	Commands      int
	ExpectReplies int
}

// String returns a one-line summary for diagnostics.
func (s Stats) String() string {
	return fmt.Sprintf("mode=%s input=%d skipped=%d commands=%d replies=%d",
		s.Mode, s.InputLines, s.Skipped, s.Commands, s.ExpectReplies)
}

// LinePreprocessor is the default Preprocessor.
//
// In ModePrint and ModeStore every command is sent as "N<n> <cmd>*<cs>"
// where n equals the queue index; index 0 is always "M110" resetting the
// device line counter. ModeStore wraps the job in M28/M29. ModeReset passes
// commands through unnumbered.
type LinePreprocessor struct {
	storeFile string
}

var _ Preprocessor = (*LinePreprocessor)(nil)

// PrepOption configures a LinePreprocessor.
type PrepOption func(*LinePreprocessor) error

// WithStoreFile sets the on-device file name used by ModeStore.
func WithStoreFile(name string) PrepOption {
	return func(p *LinePreprocessor) error {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t;*") {
			return fmt.Errorf("%w: %q", ErrInvalidStoreFile, name)
		}
		p.storeFile = name

		return nil
	}
}

// NewLinePreprocessor creates a LinePreprocessor.
func NewLinePreprocessor(opts ...PrepOption) (*LinePreprocessor, error) {
	p := &LinePreprocessor{storeFile: DefaultStoreFile}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// StoreFile returns the on-device file name used by ModeStore.
func (p *LinePreprocessor) StoreFile() string {
	return p.storeFile
}

func (p *LinePreprocessor) Prepare(mode Mode, raw []string) ([]Command, Stats, error) {
	stats := Stats{Mode: mode, InputLines: len(raw)}

	body := make([]string, 0, len(raw))
	for _, line := range raw {
		code := StripComment(line)
		if code == "" {
			stats.Skipped++
			continue
		}
		body = append(body, code)
	}

	var cmds []Command
	switch mode {
	case ModeReset:
		cmds = make([]Command, 0, len(body))
		for _, code := range body {
			cmds = append(cmds, Text(code, ""))
		}

	case ModePrint, ModeStore:
		cmds = make([]Command, 0, len(body)+3)
		cmds = append(cmds, numbered(0, "M110", ""))
		if mode == ModeStore {
			cmds = append(cmds, numbered(len(cmds), "M28 "+p.storeFile, ReplyWritingFile))
		}
		for _, code := range body {
			cmds = append(cmds, numbered(len(cmds), code, ""))
		}
		if mode == ModeStore {
			cmds = append(cmds, numbered(len(cmds), "M29 "+p.storeFile, ReplyDoneSaving))
		}

	default:
		return nil, stats, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}

	stats.Commands = len(cmds)
	for _, c := range cmds {
		if c.Reply != "" {
			stats.ExpectReplies++
		}
	}

	return cmds, stats, nil
}

func numbered(n int, code, reply string) Command {
	return Text(Numbered(n, code), reply)
}

// Numbered formats code as line n with its checksum: "N<n> <code>*<cs>".
func Numbered(n int, code string) string {
	line := "N" + strconv.Itoa(n) + " " + code

	return line + "*" + strconv.Itoa(int(Checksum(line)))
}

// Checksum returns the XOR of all bytes of line.
func Checksum(line string) byte {
	var cs byte
	for i := 0; i < len(line); i++ {
		cs ^= line[i]
	}

	return cs
}

// StripComment removes a ';' comment and surrounding whitespace.
func StripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}

	return strings.TrimSpace(line)
}

// NumberedLine is the parsed form of "N<n> <code>*<cs>".
type NumberedLine struct {
	N        int
	Code     string
	Checksum int
	// HasChecksum is false when the "*<cs>" suffix is missing.
	HasChecksum bool
}

// ParseNumbered parses a numbered line. ok is false when line does not start
// with a valid "N<n> " prefix.
func ParseNumbered(line string) (NumberedLine, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "N") {
		return NumberedLine{}, false
	}

	numEnd := strings.IndexByte(line, ' ')
	if numEnd < 0 {
		return NumberedLine{}, false
	}
	n, err := strconv.Atoi(line[1:numEnd])
	if err != nil {
		return NumberedLine{}, false
	}

	nl := NumberedLine{N: n, Code: line[numEnd+1:]}
	if star := strings.LastIndexByte(line, '*'); star > numEnd {
		cs, err := strconv.Atoi(line[star+1:])
		if err != nil {
			return NumberedLine{}, false
		}
		nl.Code = line[numEnd+1 : star]
		nl.Checksum = cs
		nl.HasChecksum = true
	}

	return nl, true
}

// Valid reports whether the checksum matches the numbered text.
func (l NumberedLine) Valid() bool {
	return l.HasChecksum && int(Checksum("N"+strconv.Itoa(l.N)+" "+l.Code)) == l.Checksum
}
