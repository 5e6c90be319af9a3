package um2usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

// Driver streams the commands of one job at a time to a device and tracks
// their delivery.
//
// A Driver is driven by a single goroutine: Load, SetMode, Start, Poll,
// Cancel and Close must not be called concurrently. The status accessors and
// Metrics may be read from any goroutine; they serve the state published at
// the end of the last of those calls.
type Driver struct {
	cfg        *Config
	baseLogger logger.Logger
	logger     logger.Logger // baseLogger plus the job id
	metrics    JobMetrics
	report     *reporter

	tr     transport.Transport
	framer lineFramer

	mode   gcode.Mode
	raw    []string
	jobID  string
	queue  *gcode.Queue
	expect Expectation

	running bool
	ended   bool

	startedAt    time.Time
	endedAt      time.Time
	monitorUntil time.Time

	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// New creates a Driver from cfg.
func New(cfg *Config) *Driver {
	d := &Driver{
		cfg:        cfg,
		baseLogger: cfg.GetLogger().With("port", cfg.PortName()),
		report:     newReporter(cfg.DiagLogSize()),
		framer:     newLineFramer(cfg.ReadTimeout(), cfg.ReadBudget()),
		mode:       gcode.ModePrint,
	}
	d.logger = d.baseLogger
	d.jobCtx, d.jobCancel = context.WithCancel(context.Background())
	d.publish()

	return d
}

// Load opens the transport for a new job and stores its raw instruction
// stream. The first command is sent only after Start, once the device
// reported readiness.
//
// Load fails with ErrJobRunning while a job runs. The error log is cleared
// and a transport still open from the previous job is closed before dialing,
// since a serial port admits one owner. When the new transport cannot be
// opened the failure is recorded in the error log; the previous job's id,
// stream, cursor and progress are kept, but with its transport released its
// monitor window ends and Phase reports PhaseIdle.
func (d *Driver) Load(ctx context.Context, raw []string) error {
	if d.running {
		return ErrJobRunning
	}
	defer d.publish()

	errChanged := d.report.clearDiag()
	d.setStatus(StatusOpening, errChanged)

	if d.tr != nil {
		d.closeTransport()
	}

	tr, err := d.cfg.Dialer().Dial(ctx, d.cfg.transportOptions())
	if err != nil {
		msg := fmt.Sprintf("can't open serial port %s with baudrate %d: '%v'", d.cfg.PortName(), d.cfg.BaudRate(), err)
		d.logger.Error("failed to open transport", "baud_rate", d.cfg.BaudRate(), "error", err)
		d.report.appendDiag(msg)
		d.setStatus(msg, true)

		return fmt.Errorf("um2usb: open %s: %w", d.cfg.PortName(), err)
	}

	d.jobCancel()
	d.jobCtx, d.jobCancel = context.WithCancel(context.Background())

	d.tr = tr
	d.framer.reset()
	d.raw = raw
	d.queue = nil
	d.jobID = uuid.NewString()
	d.logger = d.baseLogger.With("job_id", d.jobID)
	d.expect = expectReplyOnly(d.cfg.ReadyToken())
	d.ended = false
	d.monitorUntil = time.Time{}
	d.startedAt, d.endedAt = time.Time{}, time.Time{}
	d.report.resetProgress(0)

	d.logger.Info("transport opened", "baud_rate", d.cfg.BaudRate(), "lines", len(raw))
	d.setStatus(StatusOpened, false)

	return nil
}

// SetMode selects the delivery mode of the next job. It fails with
// ErrJobRunning while a job runs.
func (d *Driver) SetMode(mode gcode.Mode) error {
	if mode != gcode.ModePrint && mode != gcode.ModeStore {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	if d.running {
		return ErrJobRunning
	}
	d.mode = mode
	d.publish()

	return nil
}

// Mode returns the delivery mode.
func (d *Driver) Mode() gcode.Mode { return d.report.snapshot().mode }

// Start preprocesses the loaded stream for the current mode and starts the
// job. It is a no-op while running or when the loaded stream is empty.
func (d *Driver) Start() error {
	if d.running {
		return nil
	}
	defer d.publish()
	if d.tr == nil {
		return ErrNotLoaded
	}
	if d.ended {
		return ErrJobEnded
	}
	if len(d.raw) == 0 {
		return nil
	}

	cmds, stats, err := d.cfg.Preprocessor().Prepare(d.mode, d.raw)
	if err != nil {
		d.logger.Error("failed to preprocess job", "error", err)
		d.report.appendDiag(fmt.Sprintf("preprocess failed: %v", err))
		d.setStatus(StatusStopped, true)

		return fmt.Errorf("um2usb: preprocess: %w", err)
	}
	d.logger.Info("job preprocessed", "mode", d.mode.String(), "stats", stats.String())

	d.queue = gcode.NewQueue(cmds)
	d.running = true
	d.startedAt = d.cfg.now()
	d.endedAt = time.Time{}
	d.report.resetProgress(d.queue.Len())

	if d.mode == gcode.ModeStore {
		d.setStatus(StatusStartStore, true)
	} else {
		d.setStatus(StatusStartPrint, true)
	}

	return nil
}

// Close cancels a running job immediately and releases the transport.
func (d *Driver) Close() error {
	if d.running {
		d.Cancel(true)
	}
	d.jobCancel()
	defer d.publish()

	if d.tr == nil {
		return nil
	}

	return d.closeTransport()
}

func (d *Driver) closeTransport() error {
	err := d.tr.Close()
	d.tr = nil
	d.framer.reset()
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		d.logger.Warn("failed to close transport", "error", err)
		return err
	}

	return nil
}

// IsRunning reports whether a job is being delivered.
func (d *Driver) IsRunning() bool { return d.report.snapshot().running }

// Progress returns the completion fraction of the job in [0.0, 1.0].
func (d *Driver) Progress() float64 { return d.report.progress() }

// StatusText returns the last status message.
func (d *Driver) StatusText() string { return d.report.statusText() }

// IsInError reports whether the diagnostic log has entries.
func (d *Driver) IsInError() bool { return d.report.inError() }

// ErrorLog returns the diagnostic log entries joined by newlines.
func (d *Driver) ErrorLog() string { return d.report.errorLog() }

// AddChangeHandler adds handlers invoked on status, progress or error changes.
func (d *Driver) AddChangeHandler(handlers ...ChangeHandler) {
	d.report.addHandlers(handlers...)
}

// JobID returns the id minted by the last successful Load.
func (d *Driver) JobID() string { return d.report.snapshot().jobID }

// Metrics returns the driver counters.
func (d *Driver) Metrics() *JobMetrics { return &d.metrics }

// Cursor returns the index of the next unsent command.
func (d *Driver) Cursor() int { return d.report.snapshot().cursor }

// QueueLen returns the number of commands of the started job.
func (d *Driver) QueueLen() int { return d.report.snapshot().queueLen }

// Expectation returns what the driver currently waits for.
func (d *Driver) Expectation() Expectation { return d.report.snapshot().expect }

// Elapsed returns the time since Start, frozen once the job ended.
func (d *Driver) Elapsed() time.Duration {
	return d.report.snapshot().elapsed(d.cfg.now())
}

// Phase returns the state derived from the transport, job status and
// expectation.
func (d *Driver) Phase() Phase {
	return d.report.snapshot().phase(d.cfg.now())
}

// Status returns a snapshot of the caller-visible state.
func (d *Driver) Status() Status {
	return d.report.status(d.cfg.now())
}

// view captures the job state owned by the driving goroutine.
func (d *Driver) view() jobView {
	return jobView{
		open:         d.tr != nil,
		running:      d.running,
		ended:        d.ended,
		mode:         d.mode,
		jobID:        d.jobID,
		expect:       d.expect,
		cursor:       d.queue.Cursor(),
		queueLen:     d.queue.Len(),
		startedAt:    d.startedAt,
		endedAt:      d.endedAt,
		monitorUntil: d.monitorUntil,
	}
}

// publish makes the current job state visible to the status accessors.
func (d *Driver) publish() {
	d.report.publish(d.view())
}

// notify publishes the job state and invokes the change handlers.
func (d *Driver) notify() {
	d.publish()
	d.report.invokeHandlers(d)
}

// setStatus updates the status text and notifies handlers when anything
// changed. force notifies even when the text stayed the same.
func (d *Driver) setStatus(text string, force bool) {
	if d.report.setText(text) || force {
		d.notify()
	}
}
