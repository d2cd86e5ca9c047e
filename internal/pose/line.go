package pose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// LineSource reads "x,y,p" lines. Blank lines, '#' comments and a header
// line whose first field is not numeric are skipped; "nan" (any case) and
// empty fields are accepted as missing values.
//
// A finite source reports ErrEndOfStream at EOF. A live stream treats EOF as
// a failure, since the tracker is expected to keep producing.
//
// Live streams are read on a separate goroutine so that Acquire returns as
// soon as its context is cancelled, even while the tracker is silent.
type LineSource struct {
	name    string
	kind    string
	finite  bool
	closer  io.Closer
	scanner *bufio.Scanner
	lineNo  int
	samples int

	lines chan scanned
	done  chan struct{}
}

// scanned is one line from the reader, or the end of the stream with the
// read error that ended it.
type scanned struct {
	text string
	end  bool
	err  error
}

func newLineSource(r io.Reader, closer io.Closer, name, kind string, finite bool) *LineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &LineSource{
		name:    name,
		kind:    kind,
		finite:  finite,
		closer:  closer,
		scanner: sc,
		done:    make(chan struct{}),
	}
}

// OpenReplay opens a recorded pose file as a finite source.
func OpenReplay(path string) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pose replay: %w", err)
	}
	return newLineSource(f, f, path, "replay", true), nil
}

// NewStream reads a live stream such as stdin. The stream is not closed by
// Close unless it implements io.Closer and closeOnDone is set.
func NewStream(r io.Reader, name string, closeOnDone bool) *LineSource {
	var c io.Closer
	if rc, ok := r.(io.Closer); ok && closeOnDone {
		c = rc
	}
	return newLineSource(r, c, name, "stream", false)
}

// NewReader reads a finite in-memory or file-backed stream.
func NewReader(r io.Reader, name string) *LineSource {
	return newLineSource(r, nil, name, "replay", true)
}

// DialTCP connects to a tracker publishing lines over TCP.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (*LineSource, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial pose stream %s: %w", address, err)
	}
	return newLineSource(conn, conn, address, "tcp", false), nil
}

// Acquire returns the next sample. A finite source checks the context
// before each read. A live stream also returns ctx.Err() while blocked
// waiting for the tracker.
func (s *LineSource) Acquire(ctx context.Context) (Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		next, err := s.next(ctx)
		if err != nil {
			return Sample{}, err
		}
		if next.end {
			if next.err != nil {
				return Sample{}, fmt.Errorf("read %s line %d: %w", s.name, s.lineNo+1, next.err)
			}
			if s.finite {
				return Sample{}, ErrEndOfStream
			}
			return Sample{}, fmt.Errorf("pose stream %s closed after %d samples: %w", s.name, s.samples, io.ErrUnexpectedEOF)
		}
		s.lineNo++

		line := strings.TrimSpace(next.text)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sample, err := ParseLine(line)
		if err != nil {
			if s.samples == 0 && errors.Is(err, errHeader) {
				continue
			}
			return Sample{}, fmt.Errorf("%s line %d: %w", s.name, s.lineNo, err)
		}
		s.samples++
		return sample, nil
	}
}

func (s *LineSource) next(ctx context.Context) (scanned, error) {
	if s.finite {
		if s.scanner.Scan() {
			return scanned{text: s.scanner.Text()}, nil
		}
		return scanned{end: true, err: s.scanner.Err()}, nil
	}
	if s.lines == nil {
		s.lines = make(chan scanned, 1)
		go s.readLines()
	}
	select {
	case <-ctx.Done():
		return scanned{}, ctx.Err()
	case next, ok := <-s.lines:
		if !ok {
			return scanned{end: true}, nil
		}
		return next, nil
	}
}

// readLines feeds s.lines until the stream ends or the source is closed.
func (s *LineSource) readLines() {
	defer close(s.lines)
	for s.scanner.Scan() {
		select {
		case s.lines <- scanned{text: s.scanner.Text()}:
		case <-s.done:
			return
		}
	}
	select {
	case s.lines <- scanned{end: true, err: s.scanner.Err()}:
	case <-s.done:
	}
}

// Close releases the underlying reader. A stream that is not closed here
// may leave its reader goroutine blocked until the stream itself ends.
func (s *LineSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}

// Info describes the source.
func (s *LineSource) Info() map[string]any {
	return map[string]any{
		"source":  s.kind,
		"name":    s.name,
		"samples": s.samples,
	}
}

var errHeader = errors.New("header line")

// ParseLine parses "x,y,p". Fields may also be separated by whitespace.
func ParseLine(line string) (Sample, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) != 3 {
		if len(fields) > 0 && !looksNumeric(fields[0]) {
			return Sample{}, errHeader
		}
		return Sample{}, fmt.Errorf("expected 3 fields x,y,p, got %d", len(fields))
	}
	if !looksNumeric(fields[0]) {
		return Sample{}, errHeader
	}

	var v [3]float64
	for i, f := range fields {
		x, err := parseValue(f)
		if err != nil {
			return Sample{}, err
		}
		v[i] = x
	}
	p := v[2]
	if math.IsNaN(p) {
		p = 0
	}
	return Sample{X: v[0], Y: v[1], P: p}, nil
}

func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "nan", "none", "null":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

func looksNumeric(s string) bool {
	if _, err := parseValue(s); err == nil {
		return true
	}
	return false
}
