package daq

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Bridge defaults. The firmware ships at 115200 8N1 and acknowledges a
// command within a few milliseconds.
const (
	DefaultBaudRate = 115200
	DefaultTimeout  = 500 * time.Millisecond

	defaultDataBits = 8
	defaultStopBits = 1
)

// PortOptions are the serial settings of laser_control.daq. Zero values
// select the bridge defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills in defaults and rejects settings the bridge cannot use.
// Parity is reduced to its one-letter form.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = defaultDataBits
	}
	if o.StopBits == 0 {
		o.StopBits = defaultStopBits
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("daq data_bits %d out of range 5..8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("daq stop_bits %d: want 1 or 2", o.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if p == "" {
		p = "N"
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("daq parity %q: want N, E or O", o.Parity)
	}
	o.Parity = p[:1]
	return o, nil
}

// SerialMode is the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity],
	}, nil
}
