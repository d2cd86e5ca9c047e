package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_StreamsRouteToWriters(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	l := NewLogger("session", LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	l.Opsf("ops %d", 1)
	l.Diagf("diag %s", "two")
	l.Tracef("trace %v", 3.0)

	// The prefix leads the line, ahead of the timestamp.
	assert.Regexp(t, `^\[session\] \d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6} ops 1\n$`, ops.String())
	assert.Contains(t, diag.String(), "diag two")
	assert.Contains(t, trace.String(), "trace 3")
}

func TestNewLogger_NilWritersDisableStreams(t *testing.T) {
	var ops bytes.Buffer
	l := NewLogger("x", LogWriters{Ops: &ops})

	l.Diagf("discarded")
	l.Tracef("discarded")
	assert.Zero(t, ops.Len(), "ops should be untouched")
}

func TestNewLogger_EmptyPrefix(t *testing.T) {
	var ops bytes.Buffer
	NewLogger("", LogWriters{Ops: &ops}).Opsf("bare")
	assert.Regexp(t, `^\d{4}/\d{2}/\d{2} .* bare\n$`, ops.String())
}

func TestLogger_NilAndDiscardAreSafe(t *testing.T) {
	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.Opsf("no panic")
		nilLogger.Diagf("no panic")
		nilLogger.Tracef("no panic")
		Discard().Opsf("no panic")
	})

	derived := nilLogger.With("child")
	require.NotNil(t, derived, "With on nil logger should return a usable logger")
}

func TestLogger_WithSharesWriters(t *testing.T) {
	var ops bytes.Buffer
	parent := NewLogger("parent", LogWriters{Ops: &ops})
	child := parent.With("laser")

	child.Opsf("hello")
	out := ops.String()
	assert.Regexp(t, `^\[laser\] .* hello\n$`, out)
	assert.NotContains(t, out, "[parent]")
}
