package transport

import (
	"fmt"
	"strings"
)

// State is the lifecycle of a single transport instance.
// Closed and Failed are terminal; a new instance is needed to retry.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// canTransition reports whether from -> to is a legal lifecycle edge.
// Idle -> Closed is allowed only so an instance that never started can be discarded.
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateConnecting || to == StateClosed
	case StateConnecting:
		return to == StateOpen || to == StateFailed || to == StateClosed
	case StateOpen:
		return to == StateClosed
	}
	return false
}

// Kind names a transport implementation
type Kind string

const (
	KindPeer   Kind = "peer"
	KindSocket Kind = "socket"
)

func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a kind name. The empty string selects KindPeer.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "peer", "webrtc":
		return KindPeer, nil
	case "socket", "websocket", "ws":
		return KindSocket, nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

// Handle is the transport-agnostic surface returned to callers
type Handle interface {
	// Send encodes a command and writes it. It reports whether the write
	// completed now; it never panics and never returns an error.
	Send(x, y float64) bool

	// Toggle sends the toggle_commands control message under the same rules as Send
	Toggle() bool

	// Close releases the transport. It is safe to call more than once.
	Close()

	// State returns the current lifecycle state
	State() State

	// Kind returns which transport carries the traffic
	Kind() Kind
}
