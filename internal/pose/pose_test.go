package pose

import (
	"context"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Sample
	}{
		{"1.5,2,0.9", Sample{1.5, 2, 0.9}},
		{"  10 20\t0.25 ", Sample{10, 20, 0.25}},
		{"3;4;1", Sample{3, 4, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := ParseLine("nan,NaN,nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.X))
	assert.True(t, math.IsNaN(got.Y))
	assert.Zero(t, got.P, "missing confidence reads as zero")

	_, err = ParseLine("1,2")
	assert.Error(t, err)
	_, err = ParseLine("1,abc,3")
	assert.Error(t, err)
	_, err = ParseLine("x,y,likelihood")
	assert.ErrorIs(t, err, errHeader)
}

func TestReader_SkipsHeaderAndComments(t *testing.T) {
	src := NewReader(strings.NewReader("x,y,p\n# calibration run\n\n1,2,0.9\n3,4,0.1\n"), "mem")
	ctx := context.Background()

	s, err := src.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sample{1, 2, 0.9}, s)

	s, err = src.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sample{3, 4, 0.1}, s)

	_, err = src.Acquire(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, 2, src.Info()["samples"])
}

func TestReader_BadLineAfterDataIsError(t *testing.T) {
	src := NewReader(strings.NewReader("1,2,0.9\nx,y,p\n"), "mem")
	_, err := src.Acquire(context.Background())
	require.NoError(t, err)
	_, err = src.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndOfStream)
	assert.ErrorContains(t, err, "line 2")
}

func TestStream_EOFIsFailure(t *testing.T) {
	src := NewStream(strings.NewReader("1,2,0.9\n"), "stdin", false)
	_, err := src.Acquire(context.Background())
	require.NoError(t, err)
	_, err = src.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndOfStream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAcquire_CancelledContext(t *testing.T) {
	src := NewReader(strings.NewReader("1,2,0.9\n"), "mem")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.csv")
	require.NoError(t, os.WriteFile(path, []byte("5,6,0.8\n"), 0o644))

	src, err := OpenReplay(path)
	require.NoError(t, err)
	s, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample{5, 6, 0.8}, s)
	_, err = src.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close(), "second close is a no-op")
	assert.Equal(t, "replay", src.Info()["source"])

	_, err = OpenReplay(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "7,8,0.95\n")
	}()

	src, err := DialTCP(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer src.Close()

	s, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample{7, 8, 0.95}, s)

	_, err = src.Acquire(context.Background())
	assert.NotErrorIs(t, err, ErrEndOfStream, "a closed live stream is a failure")
}

func TestDialTCP_CancelWhileTrackerSilent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	release := make(chan struct{})
	defer close(release)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "7,8,0.95\n")
		<-release
	}()

	src, err := DialTCP(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	done := make(chan error, 1)
	go func() {
		_, err := src.Acquire(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire still blocked after cancel")
	}
}

func TestStream_CancelWhileBlocked(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewStream(r, "stdin", true)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := src.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Lines written after a cancelled read are still delivered in order.
	go io.WriteString(w, "1,2,0.5\n3,4,0.6\n")
	s, err := src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample{1, 2, 0.5}, s)
	s, err = src.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample{3, 4, 0.6}, s)
}

func TestScripted(t *testing.T) {
	src := NewScripted([]Sample{{1, 1, 1}, Missing()})
	ctx := context.Background()

	_, err := src.Acquire(ctx)
	require.NoError(t, err)
	s, err := src.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(s.X))
	_, err = src.Acquire(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, 2, src.Served())

	failing := &Scripted{Err: io.ErrClosedPipe}
	_, err = failing.Acquire(ctx)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	require.NoError(t, src.Close())
	assert.Equal(t, 1, src.Closed())
}
