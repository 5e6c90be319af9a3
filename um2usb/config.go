package um2usb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-um2usb/gcode"
	"github.com/arloliu/go-um2usb/logger"
	"github.com/arloliu/go-um2usb/transport"
)

// Default configuration values.
const (
	DefaultReadTimeout         = 50 * time.Millisecond // per-byte read timeout
	DefaultWriteTimeout        = 1 * time.Second
	DefaultPostMonitorWindow   = 5 * time.Second  // drain window after normal completion
	DefaultCancelMonitorWindow = 10 * time.Second // drain window after a cancel
	DefaultResendDelay         = 100 * time.Millisecond
	DefaultDrainAttempts       = 20
	DefaultDiagLogSize         = 30
	DefaultReadBudget          = 4096 // max bytes consumed by one Poll

	DefaultReadyToken = "echo:SD card ok"
)

// Range limits for validated options.
const (
	MinReadTimeout = 1 * time.Millisecond
	MaxReadTimeout = 1 * time.Second

	MaxDrainAttempts = 1000
	MaxResendDelay   = 5 * time.Second
)

// Config holds the construction-time configuration of a Driver.
type Config struct {
	portName string
	baudRate int

	dialer       transport.Dialer
	preprocessor gcode.Preprocessor

	readTimeout         time.Duration
	writeTimeout        time.Duration
	postMonitorWindow   time.Duration
	cancelMonitorWindow time.Duration
	resendDelay         time.Duration

	drainAttempts int
	diagLogSize   int
	readBudget    int

	readyToken string

	logger logger.Logger
	now    func() time.Time
}

// NewConfig creates a driver configuration for the device at portName.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(portName string, baudRate int, opts ...Option) (*Config, error) {
	portName = strings.TrimSpace(portName)
	if portName == "" {
		return nil, errors.New("um2usb: port name is required")
	}
	if baudRate <= 0 {
		return nil, fmt.Errorf("um2usb: invalid baud rate %d", baudRate)
	}

	prep, err := gcode.NewLinePreprocessor()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		portName:            portName,
		baudRate:            baudRate,
		dialer:              transport.SerialDialer{},
		preprocessor:        prep,
		readTimeout:         DefaultReadTimeout,
		writeTimeout:        DefaultWriteTimeout,
		postMonitorWindow:   DefaultPostMonitorWindow,
		cancelMonitorWindow: DefaultCancelMonitorWindow,
		resendDelay:         DefaultResendDelay,
		drainAttempts:       DefaultDrainAttempts,
		diagLogSize:         DefaultDiagLogSize,
		readBudget:          DefaultReadBudget,
		readyToken:          DefaultReadyToken,
		logger:              logger.GetLogger(),
		now:                 time.Now,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// PortName returns the serial port (or bridge address) of the device.
func (cfg *Config) PortName() string { return cfg.portName }

// BaudRate returns the serial line speed.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// Dialer returns the dialer used by Load to open the transport.
func (cfg *Config) Dialer() transport.Dialer { return cfg.dialer }

// Preprocessor returns the preprocessor used by Start.
func (cfg *Config) Preprocessor() gcode.Preprocessor { return cfg.preprocessor }

// ReadTimeout returns the per-byte read timeout.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the write timeout passed to the dialer.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// PostMonitorWindow returns how long inbound bytes are drained after a job
// completed normally.
func (cfg *Config) PostMonitorWindow() time.Duration { return cfg.postMonitorWindow }

// CancelMonitorWindow returns how long inbound bytes are drained after a
// non-immediate cancel.
func (cfg *Config) CancelMonitorWindow() time.Duration { return cfg.cancelMonitorWindow }

// ResendDelay returns the pause taken after a resend request.
func (cfg *Config) ResendDelay() time.Duration { return cfg.resendDelay }

// DrainAttempts returns the number of read attempts after each teardown command.
func (cfg *Config) DrainAttempts() int { return cfg.drainAttempts }

// DiagLogSize returns the capacity of the diagnostic log.
func (cfg *Config) DiagLogSize() int { return cfg.diagLogSize }

// ReadBudget returns the maximum number of bytes a single Poll reads.
func (cfg *Config) ReadBudget() int { return cfg.readBudget }

// ReadyToken returns the reply prefix awaited after the transport opened.
func (cfg *Config) ReadyToken() string { return cfg.readyToken }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

func (cfg *Config) transportOptions() transport.Options {
	return transport.Options{
		PortName:     cfg.portName,
		BaudRate:     cfg.baudRate,
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
	}
}

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithDialer sets the dialer that opens the transport. The default is
// transport.SerialDialer.
func WithDialer(d transport.Dialer) Option {
	return optFunc(func(cfg *Config) error {
		if d == nil {
			return errors.New("um2usb: dialer must not be nil")
		}
		cfg.dialer = d

		return nil
	})
}

// WithPreprocessor sets the preprocessor turning the loaded stream into
// commands. The default is gcode.LinePreprocessor.
func WithPreprocessor(p gcode.Preprocessor) Option {
	return optFunc(func(cfg *Config) error {
		if p == nil {
			return errors.New("um2usb: preprocessor must not be nil")
		}
		cfg.preprocessor = p

		return nil
	})
}

// WithReadTimeout sets the per-byte read timeout, 1ms–1s.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("um2usb: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("um2usb: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithPostMonitorWindow sets the drain window opened by normal completion.
func WithPostMonitorWindow(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("um2usb: post-monitor window must not be negative")
		}
		cfg.postMonitorWindow = d

		return nil
	})
}

// WithCancelMonitorWindow sets the drain window opened by a non-immediate cancel.
func WithCancelMonitorWindow(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("um2usb: cancel monitor window must not be negative")
		}
		cfg.cancelMonitorWindow = d

		return nil
	})
}

// WithResendDelay sets the pause taken after a resend request, 0–5s.
func WithResendDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxResendDelay {
			return fmt.Errorf("um2usb: resend delay %v out of range [0, %v]", d, MaxResendDelay)
		}
		cfg.resendDelay = d

		return nil
	})
}

// WithDrainAttempts sets the number of read attempts after each teardown command.
func WithDrainAttempts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxDrainAttempts {
			return fmt.Errorf("um2usb: drain attempts %d out of range [0, %d]", n, MaxDrainAttempts)
		}
		cfg.drainAttempts = n

		return nil
	})
}

// WithDiagLogSize sets how many diagnostic entries are kept.
func WithDiagLogSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("um2usb: diagnostic log size must be >= 1")
		}
		cfg.diagLogSize = n

		return nil
	})
}

// WithReadBudget sets the maximum number of bytes a single Poll reads before
// returning, carrying the unterminated rest as a fragment.
func WithReadBudget(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("um2usb: read budget must be >= 1")
		}
		cfg.readBudget = n

		return nil
	})
}

// WithReadyToken sets the reply prefix that must arrive before the first
// command is sent.
func WithReadyToken(token string) Option {
	return optFunc(func(cfg *Config) error {
		if token == "" {
			return errors.New("um2usb: ready token must not be empty")
		}
		cfg.readyToken = token

		return nil
	})
}

// WithLogger sets the logger for the driver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("um2usb: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithClock replaces time.Now, mainly for tests of the monitor windows.
func WithClock(now func() time.Time) Option {
	return optFunc(func(cfg *Config) error {
		if now == nil {
			return errors.New("um2usb: clock must not be nil")
		}
		cfg.now = now

		return nil
	})
}
