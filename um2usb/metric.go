package um2usb

import (
	"sync/atomic"
)

// JobMetrics contains atomic counters of a driver. They accumulate across
// jobs and may be read from any goroutine, e.g. as the value of a
// prometheus CounterFunc.
type JobMetrics struct {
	// CommandsSent indicates the number of job commands written by Poll,
	// resent commands included.
	CommandsSent atomic.Uint64
	// TeardownSent indicates the number of teardown commands written on
	// cancel or after a fatal device error.
	TeardownSent atomic.Uint64
	// AcksReceived indicates the number of ACK bytes that cleared an
	// outstanding acknowledgement.
	AcksReceived atomic.Uint64
	// RepliesMatched indicates the number of expected replies received.
	RepliesMatched atomic.Uint64
	// LinesReceived indicates the number of complete inbound lines.
	LinesReceived atomic.Uint64
	// ResendCount indicates the number of resend requests from the device.
	ResendCount atomic.Uint64
	// FatalErrorCount indicates the number of fatal device errors.
	FatalErrorCount atomic.Uint64
	// TransportErrCount indicates the number of failed reads and writes.
	TransportErrCount atomic.Uint64
	// JobsCompleted indicates the number of jobs ended by an end token.
	JobsCompleted atomic.Uint64
	// JobsCanceled indicates the number of running jobs stopped by Cancel.
	// Jobs stopped by a fatal device error are counted by FatalErrorCount.
	JobsCanceled atomic.Uint64
}

func (m *JobMetrics) incCommandsSent()      { m.CommandsSent.Add(1) }
func (m *JobMetrics) incTeardownSent()      { m.TeardownSent.Add(1) }
func (m *JobMetrics) incAcksReceived()      { m.AcksReceived.Add(1) }
func (m *JobMetrics) incRepliesMatched()    { m.RepliesMatched.Add(1) }
func (m *JobMetrics) incLinesReceived()     { m.LinesReceived.Add(1) }
func (m *JobMetrics) incResendCount()       { m.ResendCount.Add(1) }
func (m *JobMetrics) incFatalErrorCount()   { m.FatalErrorCount.Add(1) }
func (m *JobMetrics) incTransportErrCount() { m.TransportErrCount.Add(1) }
func (m *JobMetrics) incJobsCompleted()     { m.JobsCompleted.Add(1) }
func (m *JobMetrics) incJobsCanceled()      { m.JobsCanceled.Add(1) }
