package um2usb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

func TestNewConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig(" /dev/ttyACM0 ", 250000)
	require.NoError(err)

	assert.Equal(t, "/dev/ttyACM0", cfg.PortName())
	assert.Equal(t, 250000, cfg.BaudRate())
	assert.IsType(t, transport.SerialDialer{}, cfg.Dialer())
	assert.IsType(t, &gcode.LinePreprocessor{}, cfg.Preprocessor())
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout())
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout())
	assert.Equal(t, DefaultPostMonitorWindow, cfg.PostMonitorWindow())
	assert.Equal(t, DefaultCancelMonitorWindow, cfg.CancelMonitorWindow())
	assert.Equal(t, DefaultResendDelay, cfg.ResendDelay())
	assert.Equal(t, DefaultDrainAttempts, cfg.DrainAttempts())
	assert.Equal(t, DefaultDiagLogSize, cfg.DiagLogSize())
	assert.Equal(t, DefaultReadBudget, cfg.ReadBudget())
	assert.Equal(t, DefaultReadyToken, cfg.ReadyToken())
	assert.NotNil(t, cfg.GetLogger())

	opts := cfg.transportOptions()
	assert.Equal(t, transport.Options{
		PortName:     "/dev/ttyACM0",
		BaudRate:     250000,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}, opts)
}

func TestNewConfig_Options(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	dialer := transport.NetDialer{Network: "tcp"}
	prep, err := gcode.NewLinePreprocessor(gcode.WithStoreFile("part.gco"))
	require.NoError(err)

	cfg, err := NewConfig("localhost:2000", 115200,
		WithDialer(dialer),
		WithPreprocessor(prep),
		WithReadTimeout(10*time.Millisecond),
		WithWriteTimeout(2*time.Second),
		WithPostMonitorWindow(0),
		WithCancelMonitorWindow(time.Second),
		WithResendDelay(0),
		WithDrainAttempts(0),
		WithDiagLogSize(5),
		WithReadBudget(64),
		WithReadyToken("start"),
		WithLogger(l),
		WithClock(func() time.Time { return fixed }),
	)
	require.NoError(err)

	assert.Equal(t, dialer, cfg.Dialer())
	assert.Same(t, prep, cfg.Preprocessor())
	assert.Equal(t, 10*time.Millisecond, cfg.ReadTimeout())
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout())
	assert.Zero(t, cfg.PostMonitorWindow())
	assert.Equal(t, time.Second, cfg.CancelMonitorWindow())
	assert.Zero(t, cfg.ResendDelay())
	assert.Zero(t, cfg.DrainAttempts())
	assert.Equal(t, 5, cfg.DiagLogSize())
	assert.Equal(t, 64, cfg.ReadBudget())
	assert.Equal(t, "start", cfg.ReadyToken())
	assert.Same(t, l, cfg.GetLogger())
	assert.Equal(t, fixed, cfg.now())
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port string
		baud int
		opt  Option
	}{
		{name: "empty port", port: " ", baud: 9600},
		{name: "zero baud", port: "/dev/ttyS0", baud: 0},
		{name: "nil dialer", opt: WithDialer(nil)},
		{name: "nil preprocessor", opt: WithPreprocessor(nil)},
		{name: "read timeout too short", opt: WithReadTimeout(time.Microsecond)},
		{name: "read timeout too long", opt: WithReadTimeout(2 * time.Second)},
		{name: "zero write timeout", opt: WithWriteTimeout(0)},
		{name: "negative post-monitor", opt: WithPostMonitorWindow(-time.Second)},
		{name: "negative cancel monitor", opt: WithCancelMonitorWindow(-time.Second)},
		{name: "resend delay too long", opt: WithResendDelay(time.Minute)},
		{name: "negative drain attempts", opt: WithDrainAttempts(-1)},
		{name: "too many drain attempts", opt: WithDrainAttempts(MaxDrainAttempts + 1)},
		{name: "zero diag log", opt: WithDiagLogSize(0)},
		{name: "zero read budget", opt: WithReadBudget(0)},
		{name: "empty ready token", opt: WithReadyToken("")},
		{name: "nil logger", opt: WithLogger(nil)},
		{name: "nil clock", opt: WithClock(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, baud := tt.port, tt.baud
			if port == "" && baud == 0 && tt.opt != nil {
				port, baud = "/dev/ttyS0", 9600
			}

			var opts []Option
			if tt.opt != nil {
				opts = append(opts, tt.opt)
			}

			cfg, err := NewConfig(port, baud, opts...)
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
