package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundBufferFlushOrder(t *testing.T) {
	var b OutboundBuffer
	for _, f := range []string{"a", "b", "c"} {
		b.Push(f)
	}

	var wire []string
	sent, err := b.Flush(func(frame string) error {
		wire = append(wire, frame)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []string{"a", "b", "c"}, wire)
	assert.Zero(t, b.Len())
}

func TestOutboundBufferFlushRequeuesOnFailure(t *testing.T) {
	var b OutboundBuffer
	for _, f := range []string{"a", "b", "c", "d"} {
		b.Push(f)
	}

	writeErr := errors.New("write failed")
	var wire []string
	sent, err := b.Flush(func(frame string) error {
		if frame == "b" {
			return writeErr
		}
		wire = append(wire, frame)
		return nil
	})
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"a"}, wire)
	assert.Equal(t, []string{"b", "c", "d"}, b.Frames())

	// retry picks up where the failed flush stopped
	sent, err = b.Flush(func(frame string) error {
		wire = append(wire, frame)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []string{"a", "b", "c", "d"}, wire)
}

func TestOutboundBufferPop(t *testing.T) {
	var b OutboundBuffer
	_, ok := b.Pop()
	assert.False(t, ok)

	b.Push("x")
	b.PushFront("w")
	first, _ := b.Pop()
	second, _ := b.Pop()
	assert.Equal(t, "w", first)
	assert.Equal(t, "x", second)
}

func TestFramesIsACopy(t *testing.T) {
	var b OutboundBuffer
	b.Push("a")
	frames := b.Frames()
	frames[0] = "mutated"
	assert.Equal(t, []string{"a"}, b.Frames())
}
