package um2usb

import (
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/internal/queue"
)

// Status texts reported by the driver.
const (
	StatusOpening      = "Open serial port."
	StatusOpened       = "Serial port opened."
	StatusStartPrint   = "Start print."
	StatusStartStore   = "Start store."
	StatusPrintDone    = "Print finished."
	StatusStoreDone    = "Store finished."
	StatusClosingFile  = "Close sd file."
	StatusResetPrinter = "Resetting printer."
	StatusStopped      = "Stopped."
)

// Status is a snapshot of the caller-visible driver state.
type Status struct {
	Text     string
	Progress float64
	InError  bool
	Running  bool
	Mode     gcode.Mode
	Phase    Phase
}

// ChangeHandler is invoked whenever the status text, progress or error state
// changes.
//
// Note: the handler is invoked synchronously from Load, Start, Poll or
// Cancel. It must not call those methods itself.
type ChangeHandler func(d *Driver, status Status)

// jobView is the driver state published for readers on other goroutines.
type jobView struct {
	open         bool
	running      bool
	ended        bool
	mode         gcode.Mode
	jobID        string
	expect       Expectation
	cursor       int
	queueLen     int
	startedAt    time.Time
	endedAt      time.Time
	monitorUntil time.Time
}

func (v jobView) phase(now time.Time) Phase {
	switch {
	case !v.open:
		return PhaseIdle
	case v.running && v.expect.AwaitingAck():
		return PhaseAwaitingAck
	case v.running && v.expect.Pending():
		return PhaseAwaitingReply
	case v.running:
		return PhaseSending
	case now.Before(v.monitorUntil):
		return PhasePostMonitor
	case !v.ended:
		return PhaseOpening
	default:
		return PhaseIdle
	}
}

// elapsed returns the time since start, frozen once the job ended.
func (v jobView) elapsed(now time.Time) time.Duration {
	switch {
	case v.startedAt.IsZero():
		return 0
	case !v.endedAt.IsZero():
		return v.endedAt.Sub(v.startedAt)
	default:
		return now.Sub(v.startedAt)
	}
}

// reporter keeps the status text, progress, the bounded diagnostic log and
// the last published job view.
type reporter struct {
	mu        sync.Mutex
	text      string
	highWater int
	total     int
	diag      *queue.Bounded[string]
	view      jobView
	handlers  []ChangeHandler
}

func newReporter(diagSize int) *reporter {
	return &reporter{diag: queue.NewBounded[string](diagSize)}
}

func (r *reporter) addHandlers(handlers ...ChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handlers...)
}

func (r *reporter) publish(v jobView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = v
}

func (r *reporter) snapshot() jobView {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.view
}

// status builds a consistent snapshot under one lock.
func (r *reporter) status(now time.Time) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Text:    r.text,
		InError: !r.diag.IsEmpty(),
		Running: r.view.running,
		Mode:    r.view.mode,
		Phase:   r.view.phase(now),
	}
	if r.total > 0 {
		s.Progress = float64(r.highWater) / float64(r.total)
	}

	return s
}

func (r *reporter) statusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.text
}

// setText reports whether the text changed.
func (r *reporter) setText(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.text == text {
		return false
	}
	r.text = text

	return true
}

// progress returns the high-water cursor over the queue length, 0 for an
// empty queue. It never decreases within one job.
func (r *reporter) progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total <= 0 {
		return 0
	}

	return float64(r.highWater) / float64(r.total)
}

// resetProgress reports whether the progress changed.
func (r *reporter) resetProgress(total int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.highWater != 0
	r.highWater = 0
	r.total = total

	return changed
}

// advance records cursor and reports whether the progress changed.
func (r *reporter) advance(cursor int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursor <= r.highWater {
		return false
	}
	r.highWater = min(cursor, r.total)

	return true
}

// appendDiag adds msg to the diagnostic log, evicting the oldest entry when
// full.
func (r *reporter) appendDiag(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag.Enqueue(msg)
}

// clearDiag reports whether the log had entries.
func (r *reporter) clearDiag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	had := !r.diag.IsEmpty()
	r.diag.Reset()

	return had
}

func (r *reporter) inError() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return !r.diag.IsEmpty()
}

func (r *reporter) errorLog() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return strings.Join(r.diag.Items(), "\n")
}

func (r *reporter) invokeHandlers(d *Driver) {
	r.mu.Lock()
	handlers := make([]ChangeHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	status := d.Status()
	for _, handler := range handlers {
		if handler != nil {
			handler(d, status)
		}
	}
}
