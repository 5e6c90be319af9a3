/*
Package um2usb implements a command/acknowledgement driver that streams a
G-code job to an Ultimaker 2 style printer running USB-print firmware.

The driver is poll-driven. The host calls Driver.Poll repeatedly from a
single goroutine; each call may send one command and reads at most one
inbound frame. A command is sent only when the previous one was fully
acknowledged: the device answers every command with the ACK control byte
(0x06) and some commands additionally with a textual reply.

# Life cycle

	cfg, err := um2usb.NewConfig("/dev/ttyACM0", 250000)
	if err != nil {
		return err
	}

	drv := um2usb.New(cfg)
	defer drv.Close()

	if err := drv.Load(ctx, lines); err != nil {
		return err
	}
	_ = drv.SetMode(gcode.ModeStore)
	if err := drv.Start(); err != nil {
		return err
	}

	for drv.IsRunning() || drv.Phase() == um2usb.PhasePostMonitor {
		if !drv.Poll() {
			time.Sleep(10 * time.Millisecond)
		}
	}

# Error recovery

A line-number or checksum mismatch reported as "Error:..., Last Line: N"
rewinds the job to command N+1. Other device errors stop the job, run the
cancel teardown and are reported by Driver.IsInError and Driver.ErrorLog.
*/
package um2usb
