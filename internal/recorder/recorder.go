// Package recorder writes the per-frame time series of a session as CSV.
package recorder

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"t_wall", "frame_idx", "x", "y", "p",
	"chamber_raw", "chamber", "laser_state", "inference_ms", "fps_est",
}

// DefaultFlushEvery is the number of buffered rows written per flush.
const DefaultFlushEvery = 200

// Frame is one processed frame.
type Frame struct {
	// TWall is seconds since the Unix epoch.
	TWall       float64
	Index       int
	X           float64
	Y           float64
	P           float64
	ChamberRaw  string
	Chamber     string
	LaserState  bool
	InferenceMS float64
	FPS         float64
}

// Record returns the frame as CSV fields matching Columns.
func (f Frame) Record() []string {
	laser := "0"
	if f.LaserState {
		laser = "1"
	}
	return []string{
		strconv.FormatFloat(f.TWall, 'f', 6, 64),
		strconv.Itoa(f.Index),
		formatFloat(f.X),
		formatFloat(f.Y),
		formatFloat(f.P),
		f.ChamberRaw,
		f.Chamber,
		laser,
		formatFloat(f.InferenceMS),
		formatFloat(f.FPS),
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Recorder buffers frames and writes them to a CSV file every flushEvery
// rows. It is owned by the control loop and not safe for concurrent use.
type Recorder struct {
	path       string
	file       *os.File
	buf        *bufio.Writer
	csv        *csv.Writer
	flushEvery int
	pending    int
	rows       int
	closed     bool
}

// Create truncates path and writes the header.
func Create(path string, flushEvery int) (*Recorder, error) {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create frame log: %w", err)
	}
	buf := bufio.NewWriter(f)
	r := &Recorder{
		path:       path,
		file:       f,
		buf:        buf,
		csv:        csv.NewWriter(buf),
		flushEvery: flushEvery,
	}
	if err := r.csv.Write(Columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write frame log header: %w", err)
	}
	if err := r.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Write appends one frame, flushing when the buffer reaches flushEvery rows.
func (r *Recorder) Write(f Frame) error {
	if r.closed {
		return errors.New("frame recorder is closed")
	}
	if err := r.csv.Write(f.Record()); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Index, err)
	}
	r.rows++
	r.pending++
	if r.pending >= r.flushEvery {
		return r.Flush()
	}
	return nil
}

// Flush writes buffered rows to the file.
func (r *Recorder) Flush() error {
	if r.closed {
		return nil
	}
	r.csv.Flush()
	if err := r.csv.Error(); err != nil {
		return fmt.Errorf("flush frame log: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("flush frame log: %w", err)
	}
	r.pending = 0
	return nil
}

// Close flushes and closes the file. Later calls do nothing.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	flushErr := r.Flush()
	r.closed = true
	closeErr := r.file.Close()
	return errors.Join(flushErr, closeErr)
}

// Rows returns the number of frames written.
func (r *Recorder) Rows() int { return r.rows }

// Path returns the CSV file path.
func (r *Recorder) Path() string { return r.path }
