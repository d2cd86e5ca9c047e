package daq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cpplab/closedloop/internal/laser"
	"github.com/cpplab/closedloop/internal/monitoring"
)

var (
	// ErrDevice wraps an "ERR ..." reply from the bridge.
	ErrDevice = errors.New("daq device error")
	// ErrTimeout is returned when no acknowledgement arrives in time.
	ErrTimeout = errors.New("daq acknowledgement timed out")
	// ErrWriteFailed is returned when a command was only partially written.
	ErrWriteFailed = errors.New("failed to write to serial port")
)

// Bridge sends commands to the bridge and waits for each acknowledgement.
// It implements laser.Hardware.
type Bridge struct {
	port    SerialPorter
	timeout time.Duration
	log     *monitoring.Logger

	mu    sync.Mutex
	buf   []byte
	chunk []byte
	// stale is set after a timed-out command: its reply may still arrive and
	// must not be read as the acknowledgement of the next command.
	stale bool
}

var _ laser.Hardware = (*Bridge)(nil)

// NewBridge wraps an open port. A zero timeout selects DefaultTimeout.
func NewBridge(port SerialPorter, timeout time.Duration, log *monitoring.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = monitoring.Discard()
	}
	return &Bridge{
		port:    port,
		timeout: timeout,
		log:     log,
		chunk:   make([]byte, 256),
	}
}

// Connect opens the port with opener and checks the bridge answers PING.
func Connect(opener PortOpener, path string, opts PortOptions, timeout time.Duration, log *monitoring.Logger) (*Bridge, error) {
	if opener == nil {
		opener = Open
	}
	port, err := opener(path, opts)
	if err != nil {
		return nil, err
	}
	b := NewBridge(port, timeout, log)
	if err := b.Ping(); err != nil {
		port.Close()
		return nil, fmt.Errorf("daq bridge on %s did not answer: %w", path, err)
	}
	b.log.Diagf("daq bridge connected on %s", path)
	return b, nil
}

// Do sends one command and waits for its acknowledgement.
func (b *Bridge) Do(command string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	command = strings.TrimRight(command, "\r\n")
	if b.stale {
		if err := b.drain(); err != nil {
			return fmt.Errorf("%q: resync after timeout: %w", command, err)
		}
	}
	line := command + "\n"
	n, err := b.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("write %q: %w", command, err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}

	reply, err := b.readLine()
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			b.stale = true
		}
		return fmt.Errorf("%q: %w", command, err)
	}
	b.log.Tracef("daq %q -> %q", command, reply)

	switch {
	case reply == "OK":
		return nil
	case strings.HasPrefix(reply, "ERR"):
		msg := strings.TrimSpace(strings.TrimPrefix(reply, "ERR"))
		return fmt.Errorf("%q: %w: %s", command, ErrDevice, msg)
	default:
		return fmt.Errorf("%q: %w: unexpected reply %q", command, ErrDevice, reply)
	}
}

// readLine returns the next reply line. Reads returning no data (a serial
// read timeout, or EOF on an in-memory port) are retried until the
// acknowledgement deadline passes.
func (b *Bridge) readLine() (string, error) {
	deadline := time.Now().Add(b.timeout)
	for {
		if i := bytes.IndexByte(b.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(b.buf[:i]))
			b.buf = b.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}

		n, err := b.port.Read(b.chunk)
		b.buf = append(b.buf, b.chunk[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return "", ErrTimeout
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// drain discards buffered and pending input until a read returns nothing.
func (b *Bridge) drain() error {
	dropped := len(b.buf)
	b.buf = b.buf[:0]
	for {
		n, err := b.port.Read(b.chunk)
		dropped += n
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			break
		}
	}
	b.stale = false
	if dropped > 0 {
		b.log.Diagf("daq discarded %d bytes of late replies", dropped)
	}
	return nil
}

// Ping checks the bridge is responsive.
func (b *Bridge) Ping() error {
	return b.Do("PING")
}

// Close releases the serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// OpenPulseGenerator configures a counter output channel.
func (b *Bridge) OpenPulseGenerator(spec laser.PulseSpec) (laser.PulseGenerator, error) {
	if err := checkIdent("counter channel", spec.Channel); err != nil {
		return nil, err
	}
	if spec.FreqHz <= 0 {
		return nil, fmt.Errorf("pulse frequency must be positive, got %g", spec.FreqHz)
	}
	if spec.DutyCycle <= 0 || spec.DutyCycle >= 1 {
		return nil, fmt.Errorf("duty cycle must be in (0, 1), got %g", spec.DutyCycle)
	}

	cmd := fmt.Sprintf("CO %s CFG %s %s", spec.Channel, formatFloat(spec.FreqHz), formatFloat(spec.DutyCycle))
	if spec.Term != "" {
		if err := checkIdent("pulse terminal", spec.Term); err != nil {
			return nil, err
		}
		cmd += " " + spec.Term
	}
	if err := b.Do(cmd); err != nil {
		return nil, err
	}
	return &task{bridge: b, kind: "CO", name: spec.Channel}, nil
}

// OpenDigitalLine configures a digital output line.
func (b *Bridge) OpenDigitalLine(line string) (laser.DigitalLine, error) {
	if err := checkIdent("digital line", line); err != nil {
		return nil, err
	}
	if err := b.Do("DO " + line + " CFG"); err != nil {
		return nil, err
	}
	return &task{bridge: b, kind: "DO", name: line}, nil
}

// task is a handle for one configured counter or line.
type task struct {
	bridge *Bridge
	kind   string
	name   string
}

func (t *task) do(verb string) error {
	return t.bridge.Do(t.kind + " " + t.name + " " + verb)
}

func (t *task) Start() error { return t.do("START") }
func (t *task) Stop() error  { return t.do("STOP") }
func (t *task) Close() error { return t.do("CLOSE") }

func (t *task) Write(high bool) error {
	if high {
		return t.do("WRITE 1")
	}
	return t.do("WRITE 0")
}

func checkIdent(what, s string) error {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("invalid %s %q", what, s)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
