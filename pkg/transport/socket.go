package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/codec"
)

// closeWriteTimeout bounds the close frame write in Close
const closeWriteTimeout = time.Second

// Conn is the part of *websocket.Conn the socket transport uses
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens socket connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer // nil means websocket.DefaultDialer
	Header http.Header
}

// Dial opens a WebSocket connection to url
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// SocketConfig configures a SocketTransport. Callbacks are optional.
type SocketConfig struct {
	URL    string
	Dialer Dialer // nil means WebSocketDialer{}

	OnOpen    func()
	OnMessage func(msg any)
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

// SocketTransport carries frames over a persistent WebSocket.
// Sends made before the socket opens are queued and flushed in order on open.
type SocketTransport struct {
	cfg SocketConfig
	log *log.Entry
	id  string

	mu     sync.Mutex
	state  State
	conn   Conn
	buffer OutboundBuffer
	cancel context.CancelFunc

	ready *barrier
}

var _ Handle = (*SocketTransport)(nil)

// NewSocketTransport creates an idle socket transport; Connect starts it
func NewSocketTransport(cfg SocketConfig) *SocketTransport {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	entry, id := newLogger(KindSocket)
	return &SocketTransport{
		cfg:   cfg,
		log:   entry,
		id:    id,
		ready: newBarrier(),
	}
}

// Connect moves the transport to Connecting and dials in the background.
// It fails immediately with SocketConstructError if the URL is unusable.
// ctx bounds the dial only; use Ready to wait for the outcome.
func (s *SocketTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.setState(StateConnecting)

	if err := validateSocketURL(s.cfg.URL); err != nil {
		cerr := &SocketConstructError{URL: s.cfg.URL, Err: err}
		s.setState(StateFailed)
		s.mu.Unlock()

		s.ready.resolve(cerr)
		s.emitError(cerr)
		return cerr
	}

	dialCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Infof("connecting to %s", s.cfg.URL)
	go s.dial(dialCtx, cancel)
	return nil
}

func validateSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *SocketTransport) dial(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		s.mu.Lock()
		connecting := s.state == StateConnecting
		if connecting {
			s.setState(StateFailed)
		}
		s.mu.Unlock()

		if !connecting {
			return
		}
		cerr := &SocketConstructError{URL: s.cfg.URL, Err: err}
		s.log.Warnf("connect failed: %v", err)
		s.ready.resolve(cerr)
		s.emitError(cerr)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// closed while dialing
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.setState(StateOpen)
	flushErr := s.flushLocked()
	s.mu.Unlock()

	s.ready.resolve(nil)
	s.log.Info("socket open")
	s.emitOpen()
	if flushErr != nil {
		s.emitError(&SendError{Err: flushErr})
	}

	go s.readLoop(conn)
}

// flushLocked drains the outbound buffer. Caller holds s.mu and the state is Open.
func (s *SocketTransport) flushLocked() error {
	if s.buffer.Len() == 0 {
		return nil
	}
	sent, err := s.buffer.Flush(func(frame string) error {
		return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
	})
	if err != nil {
		s.log.Warnf("flush stopped after %d frames, %d still queued: %v", sent, s.buffer.Len(), err)
		return err
	}
	s.log.Debugf("flushed %d queued frames", sent)
	return nil
}

// Flush retries queued frames while the socket is open.
// It returns the number written and the write error that stopped it, if any.
func (s *SocketTransport) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return 0, ErrNotOpen
	}
	before := s.buffer.Len()
	err := s.flushLocked()
	return before - s.buffer.Len(), err
}

// Ready waits until the socket is open, it fails, or ctx ends.
// Once the socket has opened it returns nil immediately.
func (s *SocketTransport) Ready(ctx context.Context) error {
	return s.ready.wait(ctx)
}

// Send queues or writes a command message
func (s *SocketTransport) Send(x, y float64) bool {
	return s.SendMessage(codec.NewCommand(x, y))
}

// Toggle queues or writes the toggle_commands control message
func (s *SocketTransport) Toggle() bool {
	return s.SendMessage(codec.ToggleCommands())
}

// SendMessage encodes msg and writes it if the socket is open.
// Before the socket opens, or when a write fails, the frame is queued and
// false is returned. After Close it is dropped.
func (s *SocketTransport) SendMessage(msg any) bool {
	frame, err := codec.Encode(msg)
	if err != nil {
		s.log.Warnf("dropping message: %v", err)
		s.emitError(&SendError{Err: err})
		return false
	}

	s.mu.Lock()
	switch s.state {
	case StateIdle, StateConnecting:
		s.buffer.Push(frame)
		s.mu.Unlock()
		return false

	case StateOpen:
		if s.buffer.Len() > 0 {
			// earlier frames are still queued; keep enqueue order
			s.buffer.Push(frame)
			err := s.flushLocked()
			s.mu.Unlock()
			if err != nil {
				s.emitError(&SendError{Err: err})
				return false
			}
			return true
		}

		err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
		if err == nil {
			s.mu.Unlock()
			return true
		}
		s.buffer.Push(frame)
		s.mu.Unlock()

		s.log.Warnf("send failed, queued for retry: %v", err)
		s.emitError(&SendError{Err: err})
		return false

	default:
		state := s.state
		s.mu.Unlock()
		s.log.Debugf("dropping message, socket %s", state)
		return false
	}
}

// Pending returns the queued frames in send order
func (s *SocketTransport) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Frames()
}

func (s *SocketTransport) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}
		msg := codec.Decode(string(data))
		if s.cfg.OnMessage != nil {
			callHandler(s.log, "message", func() { s.cfg.OnMessage(msg) })
		}
	}
}

func (s *SocketTransport) handleDisconnect(conn Conn, err error) {
	s.mu.Lock()
	wasOpen := s.state == StateOpen
	if wasOpen {
		s.setState(StateClosed)
	}
	s.mu.Unlock()

	if !wasOpen {
		// Close already ran and reported
		return
	}
	conn.Close()

	code, reason := websocket.CloseAbnormalClosure, ""
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code, reason = closeErr.Code, closeErr.Text
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Warnf("socket error: %v", err)
		s.emitError(err)
	}
	s.log.Infof("socket closed by peer (code %d)", code)
	s.emitClose(code, reason)
}

// Close closes with a normal closure code
func (s *SocketTransport) Close() {
	s.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with code and reason and releases the socket.
// The state is Closed afterwards even if the underlying close fails; a
// transport that already Failed stays Failed.
func (s *SocketTransport) CloseWith(code int, reason string) {
	s.mu.Lock()
	prev := s.state
	if prev.Terminal() {
		s.mu.Unlock()
		return
	}
	s.setState(StateClosed)
	conn, cancel := s.conn, s.cancel
	if n := s.buffer.Len(); n > 0 {
		s.log.Warnf("closing with %d unsent frames", n)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.ready.resolve(ErrClosed)

	if conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
			s.log.Debugf("close frame not sent: %v", err)
		}
		if err := conn.Close(); err != nil {
			s.log.Debugf("close socket: %v", err)
		}
	}

	if prev == StateOpen {
		s.emitClose(code, reason)
	}
}

// State returns the current lifecycle state
func (s *SocketTransport) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Kind returns KindSocket
func (s *SocketTransport) Kind() Kind {
	return KindSocket
}

// ID returns the instance id used in log fields
func (s *SocketTransport) ID() string {
	return s.id
}

// setState applies a transition. Caller holds s.mu.
func (s *SocketTransport) setState(next State) {
	if !canTransition(s.state, next) {
		s.log.Warnf("ignoring illegal transition %s -> %s", s.state, next)
		return
	}
	s.log.Debugf("state %s -> %s", s.state, next)
	s.state = next
}

func (s *SocketTransport) emitOpen() {
	if s.cfg.OnOpen != nil {
		callHandler(s.log, "open", s.cfg.OnOpen)
	}
}

func (s *SocketTransport) emitClose(code int, reason string) {
	if s.cfg.OnClose != nil {
		callHandler(s.log, "close", func() { s.cfg.OnClose(code, reason) })
	}
}

func (s *SocketTransport) emitError(err error) {
	if s.cfg.OnError != nil {
		callHandler(s.log, "error", func() { s.cfg.OnError(err) })
	}
}
