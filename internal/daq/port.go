// Package daq talks to the acquisition bridge that owns the laser's counter
// output and digital enable line. The bridge is a microcontroller on a serial
// port speaking a newline-terminated ASCII protocol; every command is
// acknowledged with one reply line, "OK" or "ERR <message>".
//
//	PING
//	CO <chan> CFG <freq_hz> <duty> [<term>]
//	CO <chan> START|STOP|CLOSE
//	DO <line> CFG
//	DO <line> START|STOP|CLOSE
//	DO <line> WRITE 0|1
package daq

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports that support a read timeout.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// PortOpener opens a serial port. Open is the production implementation.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)

// Open opens a real serial port at path. A short read timeout is set so
// that a silent bridge surfaces as ErrTimeout rather than a hang.
func Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// readPoll is the per-read timeout on real ports. The reply deadline is
// enforced by the Bridge on top of it.
const readPoll = 20 * time.Millisecond
