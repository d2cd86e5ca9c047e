package laser

// Task is a hardware task handle.
type Task interface {
	Start() error
	Stop() error
	Close() error
}

// PulseGenerator is a continuous counter-output pulse train.
type PulseGenerator interface {
	Task
}

// DigitalLine is a single digital output line.
type DigitalLine interface {
	Task
	Write(high bool) error
}

// PulseSpec configures a pulse generator.
type PulseSpec struct {
	Channel   string
	FreqHz    float64
	DutyCycle float64
	// Term optionally routes the pulse output to a terminal.
	Term string
}

// Hardware creates task handles on an acquisition device.
type Hardware interface {
	OpenPulseGenerator(spec PulseSpec) (PulseGenerator, error)
	OpenDigitalLine(line string) (DigitalLine, error)
}

// Opener connects to the acquisition device. Hardware controllers call it
// from Start so that an unavailable device surfaces as an InitError there.
type Opener func() (Hardware, error)
