package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	text, err := Encode(NewCommand(3, 4))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"command","x":3,"y":4}`, text)
}

func TestEncodeToggleHasNoCoordinates(t *testing.T) {
	text, err := Encode(ToggleCommands())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"toggle_commands"}`, text)
}

func TestDecodeInvertsEncode(t *testing.T) {
	messages := []any{
		NewCommand(0, 0),
		NewCommand(-1.5, 2.25),
		NewCommand(1e6, -3),
		ToggleCommands(),
	}

	for _, msg := range messages {
		text, err := Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, msg, Decode(text), "round trip of %s", text)
	}
}

func TestDecodeKeepsRawText(t *testing.T) {
	for _, text := range []string{"", "hello", "{broken", "ok: ready"} {
		assert.Equal(t, text, Decode(text))
	}
}

func TestDecodeGenericJSON(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "status", "ok": true}, Decode(`{"type":"status","ok":true}`))
	assert.Equal(t, float64(42), Decode(`42`))
	assert.Equal(t, []any{"a", "b"}, Decode(`["a","b"]`))
}

func TestDecodeMistypedCommand(t *testing.T) {
	got := Decode(`{"type":"command","x":"left"}`)
	assert.Equal(t, map[string]any{"type": "command", "x": "left"}, got)
}

func TestEncodeUnrepresentable(t *testing.T) {
	_, err := Encode(NewCommand(math.NaN(), 1))
	require.Error(t, err)

	var serr *SerializationError
	assert.True(t, errors.As(err, &serr))
}
