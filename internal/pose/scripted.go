package pose

import "context"

// Scripted replays a fixed list of samples, then reports ErrEndOfStream.
// Err, when set, is returned once the samples are used up instead.
type Scripted struct {
	Samples []Sample
	Err     error

	next   int
	closed int
}

// NewScripted returns a source over samples.
func NewScripted(samples []Sample) *Scripted {
	return &Scripted{Samples: samples}
}

func (s *Scripted) Acquire(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if s.next >= len(s.Samples) {
		if s.Err != nil {
			return Sample{}, s.Err
		}
		return Sample{}, ErrEndOfStream
	}
	smp := s.Samples[s.next]
	s.next++
	return smp, nil
}

func (s *Scripted) Close() error {
	s.closed++
	return nil
}

// Closed reports how many times Close was called.
func (s *Scripted) Closed() int { return s.closed }

// Served reports how many samples have been returned.
func (s *Scripted) Served() int { return s.next }

func (s *Scripted) Info() map[string]any {
	return map[string]any{"source": "scripted", "samples": len(s.Samples)}
}
