package daq

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// SimulatedDevice is an in-memory serial port that executes the bridge
// protocol. It backs --simulate-daq runs and the hardware tests.
type SimulatedDevice struct {
	mu       sync.Mutex
	pending  bytes.Buffer
	replies  bytes.Buffer
	counters map[string]*SimCounter
	lines    map[string]*SimLine
	faults   map[string]string
	commands []string
	closed   bool
}

// SimCounter is the state of a simulated counter output.
type SimCounter struct {
	FreqHz    float64
	DutyCycle float64
	Term      string
	Running   bool
	Closed    bool
}

// SimLine is the state of a simulated digital output line.
type SimLine struct {
	High    bool
	Running bool
	Closed  bool
}

// NewSimulatedDevice returns a device with no configured channels.
func NewSimulatedDevice() *SimulatedDevice {
	return &SimulatedDevice{
		counters: make(map[string]*SimCounter),
		lines:    make(map[string]*SimLine),
		faults:   make(map[string]string),
	}
}

// OpenPort returns a PortOpener that hands out this device.
func (d *SimulatedDevice) OpenPort() PortOpener {
	return func(string, PortOptions) (SerialPorter, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = false
		return d, nil
	}
}

// FailOn makes every command starting with prefix reply "ERR msg".
func (d *SimulatedDevice) FailOn(prefix, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[prefix] = msg
}

// ClearFaults removes every FailOn rule.
func (d *SimulatedDevice) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = make(map[string]string)
}

// Commands returns every command received, in order.
func (d *SimulatedDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Counter returns a copy of a counter's state.
func (d *SimulatedDevice) Counter(ch string) (SimCounter, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[ch]
	if !ok {
		return SimCounter{}, false
	}
	return *c, true
}

// Line returns a copy of a digital line's state.
func (d *SimulatedDevice) Line(line string) (SimLine, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[line]
	if !ok {
		return SimLine{}, false
	}
	return *l, true
}

// Read returns queued replies. An empty queue reads as no data.
func (d *SimulatedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("serial port closed")
	}
	if d.replies.Len() == 0 {
		return 0, nil
	}
	return d.replies.Read(p)
}

// Write accepts command bytes and executes every complete line.
func (d *SimulatedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("serial port closed")
	}
	d.pending.Write(p)
	for {
		line, err := d.pending.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			d.pending.Reset()
			d.pending.WriteString(line)
			break
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		d.commands = append(d.commands, cmd)
		if err := d.exec(cmd); err != nil {
			fmt.Fprintf(&d.replies, "ERR %s\n", err.Error())
		} else {
			d.replies.WriteString("OK\n")
		}
	}
	return len(p), nil
}

// Close marks the port closed.
func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *SimulatedDevice) exec(cmd string) error {
	for prefix, msg := range d.faults {
		if strings.HasPrefix(cmd, prefix) {
			return errors.New(msg)
		}
	}

	f := strings.Fields(cmd)
	switch {
	case len(f) == 1 && f[0] == "PING":
		return nil
	case len(f) >= 3 && f[0] == "CO":
		return d.execCounter(f[1], f[2], f[3:])
	case len(f) >= 3 && f[0] == "DO":
		return d.execLine(f[1], f[2], f[3:])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (d *SimulatedDevice) execCounter(ch, verb string, args []string) error {
	if verb == "CFG" {
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: CO <chan> CFG <freq> <duty> [<term>]")
		}
		freq, err := strconv.ParseFloat(args[0], 64)
		if err != nil || freq <= 0 {
			return fmt.Errorf("bad frequency %q", args[0])
		}
		duty, err := strconv.ParseFloat(args[1], 64)
		if err != nil || duty <= 0 || duty >= 1 {
			return fmt.Errorf("bad duty cycle %q", args[1])
		}
		c := &SimCounter{FreqHz: freq, DutyCycle: duty}
		if len(args) == 3 {
			c.Term = args[2]
		}
		d.counters[ch] = c
		return nil
	}

	c, ok := d.counters[ch]
	if !ok || c.Closed {
		return fmt.Errorf("counter %s not configured", ch)
	}
	switch verb {
	case "START":
		c.Running = true
	case "STOP":
		c.Running = false
	case "CLOSE":
		c.Running = false
		c.Closed = true
	default:
		return fmt.Errorf("unknown counter verb %q", verb)
	}
	return nil
}

func (d *SimulatedDevice) execLine(name, verb string, args []string) error {
	if verb == "CFG" {
		d.lines[name] = &SimLine{}
		return nil
	}

	l, ok := d.lines[name]
	if !ok || l.Closed {
		return fmt.Errorf("line %s not configured", name)
	}
	switch verb {
	case "START":
		l.Running = true
	case "STOP":
		l.Running = false
	case "CLOSE":
		l.Running = false
		l.High = false
		l.Closed = true
	case "WRITE":
		if len(args) != 1 || (args[0] != "0" && args[0] != "1") {
			return errors.New("usage: DO <line> WRITE 0|1")
		}
		l.High = args[0] == "1"
	default:
		return fmt.Errorf("unknown line verb %q", verb)
	}
	return nil
}
