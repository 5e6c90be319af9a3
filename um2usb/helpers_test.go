package um2usb

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

const readyLine = DefaultReadyToken + "\n"

// fakeTransport is a scripted in-memory transport. Reads pop bytes queued
// with feed and return transport.ErrNoData when the queue is empty.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  []byte
	writes   []string
	reads    int
	readsAt  []int // value of reads at each write
	readErr  error
	writeErr error
	closed   bool
	// onWrite reacts to a successful write, e.g. by feeding a reply.
	onWrite func(ft *fakeTransport, p []byte)
}

var _ transport.Transport = (*fakeTransport)(nil)

func (ft *fakeTransport) ReadByte(_ time.Duration) (byte, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.reads++
	if ft.closed {
		return 0, transport.ErrClosed
	}
	if ft.readErr != nil {
		return 0, ft.readErr
	}
	if len(ft.inbound) == 0 {
		return 0, transport.ErrNoData
	}

	b := ft.inbound[0]
	ft.inbound = ft.inbound[1:]

	return b, nil
}

func (ft *fakeTransport) Write(p []byte) (int, error) {
	ft.mu.Lock()
	if ft.closed {
		ft.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if ft.writeErr != nil {
		err := ft.writeErr
		ft.mu.Unlock()
		return 0, err
	}
	ft.writes = append(ft.writes, string(p))
	ft.readsAt = append(ft.readsAt, ft.reads)
	onWrite := ft.onWrite
	ft.mu.Unlock()

	if onWrite != nil {
		onWrite(ft, p)
	}

	return len(p), nil
}

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.closed = true

	return nil
}

func (ft *fakeTransport) feed(s string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.inbound = append(ft.inbound, s...)
}

func (ft *fakeTransport) feedAck() {
	ft.feed(string(ACK))
}

func (ft *fakeTransport) pending() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return len(ft.inbound)
}

func (ft *fakeTransport) written() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return append([]string(nil), ft.writes...)
}

func (ft *fakeTransport) isClosed() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return ft.closed
}

// autoAck acknowledges every write with the ACK byte.
func autoAck(ft *fakeTransport, _ []byte) {
	ft.feedAck()
}

// marlinReplies acknowledges every write and answers M28/M29 the way the
// firmware does.
func marlinReplies(ft *fakeTransport, p []byte) {
	ft.feedAck()

	line, ok := gcode.ParseNumbered(string(p))
	if !ok {
		return
	}
	switch {
	case strings.HasPrefix(line.Code, "M28 "):
		ft.feed("Writing to file: " + line.Code[4:] + "\n")
	case strings.HasPrefix(line.Code, "M29 "):
		ft.feed("Done saving file.\n")
	case line.Code == "M84":
		ft.feed(EndPrintToken + "\n")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// prepFunc adapts a function to gcode.Preprocessor.
type prepFunc func(mode gcode.Mode, raw []string) ([]gcode.Command, gcode.Stats, error)

func (f prepFunc) Prepare(mode gcode.Mode, raw []string) ([]gcode.Command, gcode.Stats, error) {
	return f(mode, raw)
}

// fixedJob returns a preprocessor producing n plain commands for job modes
// and passing reset sequences through.
func fixedJob(n int) gcode.Preprocessor {
	return fixedJobWithReply(n, "")
}

// fixedJobWithReply is fixedJob with every job command expecting reply.
func fixedJobWithReply(n int, reply string) gcode.Preprocessor {
	return prepFunc(func(mode gcode.Mode, raw []string) ([]gcode.Command, gcode.Stats, error) {
		if mode == gcode.ModeReset {
			cmds := make([]gcode.Command, 0, len(raw))
			for _, code := range raw {
				cmds = append(cmds, gcode.Text(code, ""))
			}
			return cmds, gcode.Stats{Mode: mode, Commands: len(cmds)}, nil
		}

		cmds := make([]gcode.Command, n)
		for i := range cmds {
			cmds[i] = gcode.Text("G1 X1", reply)
		}
		return cmds, gcode.Stats{Mode: mode, Commands: n}, nil
	})
}

func testLogger() logger.Logger {
	return logger.NewSlogWithWriter(io.Discard, logger.DebugLevel, false, false)
}

type testEnv struct {
	drv   *Driver
	ft    *fakeTransport
	clock *fakeClock
	// dialErr makes the next dials fail when set.
	dialErr error
}

// newTestEnv creates a driver whose dialer hands out one fakeTransport.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{ft: &fakeTransport{}, clock: newFakeClock()}
	dialer := transport.DialerFunc(func(_ context.Context, _ transport.Options) (transport.Transport, error) {
		if env.dialErr != nil {
			return nil, env.dialErr
		}
		return env.ft, nil
	})

	base := []Option{
		WithDialer(dialer),
		WithResendDelay(0),
		WithDrainAttempts(3),
		WithLogger(testLogger()),
		WithClock(env.clock.Now),
	}
	cfg, err := NewConfig("/dev/ttyTEST0", 250000, append(base, opts...)...)
	require.NoError(t, err)

	env.drv = New(cfg)
	t.Cleanup(func() { _ = env.drv.Close() })

	return env
}

// start loads raw, starts the job in mode and consumes the ready line.
func (env *testEnv) start(t *testing.T, mode gcode.Mode, raw []string) {
	t.Helper()

	require.NoError(t, env.drv.SetMode(mode))
	require.NoError(t, env.drv.Load(context.Background(), raw))
	require.NoError(t, env.drv.Start())
	require.True(t, env.drv.IsRunning())

	env.ft.feed(readyLine)
	require.True(t, env.drv.Poll())
	require.False(t, env.drv.Expectation().Pending())
}

// pollUntil polls until cond holds, failing after limit polls.
func (env *testEnv) pollUntil(t *testing.T, limit int, cond func() bool) {
	t.Helper()

	for range limit {
		if cond() {
			return
		}
		env.drv.Poll()
	}
	require.True(t, cond(), "condition not reached after %d polls", limit)
}
