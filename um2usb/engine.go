package um2usb

import (
	"fmt"
	"strings"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/internal/pool"
)

// Poll performs one step of the protocol: it sends the next command when
// nothing is outstanding, then reads at most one inbound frame and reacts to
// it. Poll never blocks beyond the per-byte read timeouts of that frame,
// except for the short pause after a resend request.
//
// The result is a scheduling hint: true means more work is likely and the
// next Poll should come soon. Once the job ended and its monitor window
// closed, Poll is a no-op until the next Load.
func (d *Driver) Poll() bool {
	if d.tr == nil {
		return false
	}
	if !d.running && !d.cfg.now().Before(d.monitorUntil) {
		return false
	}
	defer d.publish()

	more := false
	if d.running && !d.expect.Pending() && !d.queue.Done() {
		more = d.sendNext()
	}

	f, err := d.framer.next(d.tr)
	if err != nil {
		d.metrics.incTransportErrCount()
		d.logger.Warn("failed to read from transport", "error", err)
	}

	switch f.kind {
	case frameNone:
		return more
	case frameFragment:
		return true
	case frameAck:
		d.handleAck()
	case frameLine:
		d.handleLine(f.text())
	}

	return true
}

// sendNext writes the command at the cursor. On a write failure the cursor
// stays put and the command is retried by the next Poll.
func (d *Driver) sendNext() bool {
	cmd, ok := d.queue.At(d.queue.Cursor())
	if !ok {
		return false
	}

	if err := d.write(cmd); err != nil {
		d.logger.Warn("failed to send command", "cursor", d.queue.Cursor(), "error", err)
		return false
	}

	d.metrics.incCommandsSent()
	d.queue.Next()
	d.expect = afterSend(cmd.Reply)
	if d.report.advance(d.queue.Cursor()) {
		d.notify()
	}

	return true
}

func (d *Driver) write(cmd gcode.Command) error {
	if _, err := d.tr.Write(cmd.Wire()); err != nil {
		d.metrics.incTransportErrCount()
		return err
	}
	d.logger.Debug("send", "cmd", cmd.String())

	return nil
}

func (d *Driver) handleAck() {
	if !d.running || !d.expect.AwaitingAck() {
		d.logger.Debug("unexpected ack", "expect", d.expect.String())
		return
	}

	d.expect = d.expect.ackReceived()
	d.metrics.incAcksReceived()
}

func (d *Driver) handleLine(line string) {
	d.metrics.incLinesReceived()

	r := classify(line)
	if !d.running {
		// monitor window: log only
		d.logger.Info("reply", "line", line, "kind", r.kind.String())
		if r.kind == replyFatal {
			d.metrics.incFatalErrorCount()
			d.report.appendDiag(fatalMessage(line))
			d.notify()
		}

		return
	}

	switch r.kind {
	case replyResend:
		d.resend(r.lastLine, line)
		return
	case replyFatal:
		d.fail(line)
		return
	}

	if prefix, ok := d.expect.AwaitingReply(); ok && strings.HasPrefix(line, prefix) {
		d.expect = d.expect.replyMatched()
		d.metrics.incRepliesMatched()
		d.logger.Debug("expected reply", "line", line)
	} else {
		d.logger.Debug("reply", "line", line)
	}

	if token, ok := matchEndToken(d.mode, line); ok {
		d.finish(token)
	}
}

// resend rewinds the cursor to the command after the last line the device
// confirmed and clears the expectation.
func (d *Driver) resend(lastLine int, line string) {
	cursor := d.queue.Rewind(lastLine + 1)
	d.expect = Expectation{}
	d.metrics.incResendCount()
	d.logger.Warn("device requested resend", "reply", line, "last_line", lastLine, "cursor", cursor)

	if err := pool.Pause(d.jobCtx, d.cfg.ResendDelay()); err != nil {
		d.logger.Debug("resend pause interrupted", "error", err)
	}
}

// fail stops the job after a fatal device reply and quiesces the device.
func (d *Driver) fail(line string) {
	msg := fatalMessage(line)
	d.metrics.incFatalErrorCount()
	d.logger.Error("fatal reply from device", "reply", line, "cursor", d.queue.Cursor())
	d.report.appendDiag(msg)

	d.quiesce(false)
	d.setStatus(msg, true)
}

func fatalMessage(line string) string {
	return fmt.Sprintf("ERROR: reply from printer: '%s'", line)
}

// finish ends the job after an end token and opens the post-monitor window.
func (d *Driver) finish(token string) {
	now := d.cfg.now()
	d.running = false
	d.ended = true
	d.endedAt = now
	d.monitorUntil = now.Add(d.cfg.PostMonitorWindow())
	d.expect = Expectation{}
	d.metrics.incJobsCompleted()

	if d.mode == gcode.ModeStore {
		duration := d.endedAt.Sub(d.startedAt)
		rate := 0.0
		if secs := duration.Seconds(); secs > 0 {
			rate = float64(d.queue.Len()) / secs
		}
		d.logger.Info("store statistics",
			"commands", d.queue.Len(),
			"duration", duration,
			"commands_per_second", fmt.Sprintf("%.1f", rate),
		)
	}

	d.logger.Info("end token received, job done", "token", token, "elapsed", d.view().elapsed(now))
	if d.mode == gcode.ModeStore {
		d.setStatus(StatusStoreDone, true)
	} else {
		d.setStatus(StatusPrintDone, true)
	}
}

// Cancel stops the job and quiesces the device: a store job gets its
// on-device file closed, a print job gets the reset sequence. Each teardown
// command is followed by a bounded drain of device output.
//
// An immediate cancel opens no monitor window; use it right before Close.
func (d *Driver) Cancel(immediate bool) {
	if d.running {
		d.metrics.incJobsCanceled()
	}
	d.quiesce(immediate)
}

// quiesce stops the job and sends the teardown sequence of the mode.
func (d *Driver) quiesce(immediate bool) {
	now := d.cfg.now()
	if d.running {
		d.endedAt = now
	}
	d.running = false
	if d.raw != nil {
		d.ended = true
	}

	if immediate {
		d.monitorUntil = now
	} else {
		d.monitorUntil = now.Add(d.cfg.CancelMonitorWindow())
	}

	if d.expect.Pending() {
		d.logger.Debug("clearing stale expectation", "expect", d.expect.String())
		d.expect = Expectation{}
	}

	if d.tr != nil {
		if d.mode == gcode.ModeStore {
			d.setStatus(StatusClosingFile, true)
		} else {
			d.setStatus(StatusResetPrinter, true)
		}
		d.runSequence(TeardownSequence(d.mode))
	}

	d.setStatus(StatusStopped, true)
}

// runSequence sends codes synchronously, draining device output after each
// one. It bypasses the expectation tracking of Poll.
func (d *Driver) runSequence(codes []string) {
	cmds, _, err := d.cfg.Preprocessor().Prepare(gcode.ModeReset, codes)
	if err != nil {
		d.logger.Error("failed to prepare teardown", "error", err)
		return
	}

	d.logger.Info("sending teardown sequence", "mode", d.mode.String(), "commands", len(cmds))
	for _, cmd := range cmds {
		if err := d.write(cmd); err != nil {
			d.logger.Warn("failed to send teardown command", "cmd", cmd.String(), "error", err)
		} else {
			d.metrics.incTeardownSent()
		}
		d.drain(d.cfg.DrainAttempts())
	}
	d.framer.reset()
}

// drain reads and logs inbound frames for the given number of attempts.
func (d *Driver) drain(attempts int) {
	for range attempts {
		f, err := d.framer.next(d.tr)
		if err != nil {
			d.metrics.incTransportErrCount()
			d.logger.Debug("drain read failed", "error", err)
			continue
		}

		switch f.kind {
		case frameLine:
			d.logger.Debug("drained reply", "line", f.text())
		case frameAck:
			d.logger.Debug("drained ack")
		}
	}
}
