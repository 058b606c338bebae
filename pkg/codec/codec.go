// Package codec encodes command and control messages as JSON text frames.
//
// The same text is produced whichever transport carries it, so a data channel
// and a WebSocket are interchangeable on the wire.
package codec

import (
	"encoding/json"
	"fmt"
)

// Message types
const (
	TypeCommand        = "command"
	TypeToggleCommands = "toggle_commands"
)

// Command is the steady-state payload: a pair of coordinates
type Command struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// NewCommand returns a command message for x, y
func NewCommand(x, y float64) Command {
	return Command{Type: TypeCommand, X: x, Y: y}
}

// Control is a mode-switch signal with no payload
type Control struct {
	Type string `json:"type"`
}

// ToggleCommands returns the toggle_commands control message
func ToggleCommands() Control {
	return Control{Type: TypeToggleCommands}
}

// SerializationError reports a message that cannot be represented as JSON
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize message: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Encode serializes msg to its wire text
func Encode(msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", &SerializationError{Err: err}
	}
	return string(data), nil
}

// Decode parses an inbound frame.
// Known message types come back as Command or Control, other JSON as the
// generic value encoding/json produces, and anything that is not JSON as the
// original string.
func Decode(text string) any {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text
	}

	object, ok := value.(map[string]any)
	if !ok {
		return value
	}

	switch object["type"] {
	case TypeCommand:
		var cmd Command
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return value
		}
		return cmd
	case TypeToggleCommands:
		return ToggleCommands()
	}
	return value
}
