package um2usb

import "errors"

var (
	// ErrJobRunning is returned when an operation needs an idle driver.
	ErrJobRunning = errors.New("um2usb: job is running")
	// ErrNotLoaded is returned by Start before a successful Load.
	ErrNotLoaded = errors.New("um2usb: no job loaded")
	// ErrJobEnded is returned by Start once the loaded job completed or was
	// canceled; a new Load is required.
	ErrJobEnded = errors.New("um2usb: job already ended")
	// ErrInvalidMode is returned by SetMode for a mode that cannot carry a job.
	ErrInvalidMode = errors.New("um2usb: invalid job mode")
)
