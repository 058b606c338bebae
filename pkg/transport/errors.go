package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by waits interrupted by Close
	ErrClosed = errors.New("transport closed")
	// ErrAlreadyStarted is returned when a transport instance is started twice
	ErrAlreadyStarted = errors.New("transport already started")
	// ErrNotOpen is wrapped by SendError when the transport is not open
	ErrNotOpen = errors.New("transport not open")
)

// NegotiationError is a failure applying or producing a session description
type NegotiationError struct {
	Stage string // e.g. "create offer", "set remote description"
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// ChannelError is a data channel failure before or after it opened
type ChannelError struct {
	Label string
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("data channel %q: %v", e.Label, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// SocketConstructError is a failure creating the socket connection
type SocketConstructError struct {
	URL string
	Err error
}

func (e *SocketConstructError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.URL, e.Err)
}

func (e *SocketConstructError) Unwrap() error {
	return e.Err
}

// SendError is a serialization or write failure. It is only logged and
// reported to error callbacks; Send itself returns false.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
