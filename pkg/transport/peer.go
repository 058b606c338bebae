package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/codec"
	"github.com/tomaslejdung/rovlink/pkg/signal"
)

// DataChannelLabel is the label of the negotiated command channel
const DataChannelLabel = "commands"

// PeerConfig configures a PeerTransport. Callbacks are optional.
type PeerConfig struct {
	OfferURL  string
	ICE       ICEConfig
	Exchanger signal.Exchanger // nil means signal.NewHTTPExchange(nil)
	API       *webrtc.API      // nil means the default pion API

	// Deadlines for Connect; zero disables the deadline
	HandshakeTimeout time.Duration
	ChannelTimeout   time.Duration

	OnMessage func(msg any)
	OnError   func(err error)
}

// PeerTransport carries frames over a WebRTC data channel negotiated through
// one offer/answer exchange. It does not queue: sends made while the
// channel is not open return false and are dropped.
//
// The lifecycle has two barriers. Handshake resolves once the answer is
// applied; the channel barrier resolves when the data channel opens. The
// transport is Open only after both.
type PeerTransport struct {
	cfg       PeerConfig
	exchanger signal.Exchanger
	log       *log.Entry
	id        string

	mu     sync.Mutex
	state  State
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	cancel context.CancelFunc // aborts an in-flight handshake

	handshake   *barrier
	channelOpen *barrier
}

var _ Handle = (*PeerTransport)(nil)

// NewPeerTransport creates an idle peer transport
func NewPeerTransport(cfg PeerConfig) *PeerTransport {
	exchanger := cfg.Exchanger
	if exchanger == nil {
		exchanger = signal.NewHTTPExchange(nil)
	}
	entry, id := newLogger(KindPeer)
	return &PeerTransport{
		cfg:         cfg,
		exchanger:   exchanger,
		log:         entry,
		id:          id,
		handshake:   newBarrier(),
		channelOpen: newBarrier(),
	}
}

// Connect runs the handshake and then waits for the data channel, applying
// the configured deadline to each step
func (p *PeerTransport) Connect(ctx context.Context) error {
	hctx, cancel := withOptionalTimeout(ctx, p.cfg.HandshakeTimeout)
	err := p.Handshake(hctx)
	cancel()
	if err != nil {
		return err
	}

	cctx, cancel := withOptionalTimeout(ctx, p.cfg.ChannelTimeout)
	defer cancel()
	return p.WaitChannel(cctx)
}

// Handshake creates the peer connection and data channel, sends the offer
// and applies the answer. It runs at most once per instance and never retries.
func (p *PeerTransport) Handshake(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.setState(StateConnecting)
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	err := p.negotiate(ctx)

	p.mu.Lock()
	closed := p.state == StateClosed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err != nil {
		p.fail(err)
		return err
	}

	p.handshake.resolve(nil)
	p.log.Info("handshake complete")
	return nil
}

func (p *PeerTransport) negotiate(ctx context.Context) error {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if p.cfg.API != nil {
		pc, err = p.cfg.API.NewPeerConnection(p.cfg.ICE.Configuration())
	} else {
		pc, err = webrtc.NewPeerConnection(p.cfg.ICE.Configuration())
	}
	if err != nil {
		return &NegotiationError{Stage: "create peer connection", Err: err}
	}

	// The channel must exist before the offer so it is negotiated into it
	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return &NegotiationError{Stage: "create data channel", Err: err}
	}

	p.mu.Lock()
	if p.state != StateConnecting {
		p.mu.Unlock()
		dc.Close()
		pc.Close()
		return ErrClosed
	}
	p.pc, p.dc = pc, dc
	p.mu.Unlock()

	p.watch(pc, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Stage: "create offer", Err: err}
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Stage: "set local description", Err: err}
	}

	// Vanilla ICE: all candidates go into the one offer
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return &NegotiationError{Stage: "gather candidates", Err: ctx.Err()}
	}

	p.log.Infof("local description set, sending offer to %s", p.cfg.OfferURL)
	answer, err := p.exchanger.Exchange(ctx, p.cfg.OfferURL, signal.NewOffer(pc.LocalDescription().SDP))
	if err != nil {
		return err
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return &NegotiationError{Stage: "set remote description", Err: err}
	}
	p.log.Debug("remote description set from answer")
	return nil
}

// watch wires the channel and connection events. The channel barrier takes
// the first open, error or close; later events only affect an open transport.
func (p *PeerTransport) watch(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		if p.channelOpen.resolve(nil) {
			p.log.Info("data channel open")
		}
	})

	dc.OnError(func(err error) {
		cerr := &ChannelError{Label: DataChannelLabel, Err: err}
		if p.channelOpen.resolve(cerr) {
			return
		}
		p.log.Warnf("data channel error: %v", err)
		p.emitError(cerr)
	})

	dc.OnClose(func() {
		if p.channelOpen.resolve(&ChannelError{Label: DataChannelLabel, Err: errors.New("closed before open")}) {
			return
		}
		if p.closeFromRemote() {
			p.log.Info("data channel closed")
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		decoded := codec.Decode(string(msg.Data))
		if p.cfg.OnMessage != nil {
			callHandler(p.log, "message", func() { p.cfg.OnMessage(decoded) })
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debugf("peer connection state: %s", state.String())
		if state != webrtc.PeerConnectionStateFailed {
			return
		}
		cerr := &ChannelError{Label: DataChannelLabel, Err: errors.New("peer connection failed")}
		if p.channelOpen.resolve(cerr) {
			return
		}
		if p.closeFromRemote() {
			p.log.Warn("peer connection failed")
			p.emitError(cerr)
		}
	})
}

// closeFromRemote moves an open transport to Closed, releases the channel and
// connection, and reports whether it did. It runs inside pion callbacks, so
// the release happens on its own goroutine.
func (p *PeerTransport) closeFromRemote() bool {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return false
	}
	p.setState(StateClosed)
	pc, dc := p.pc, p.dc
	p.mu.Unlock()

	go p.release(pc, dc)
	return true
}

// WaitChannel waits for the handshake and then for the data channel to open.
// On success the transport is Open. A channel error fails the transport; an
// expired ctx is returned as is and leaves the decision to the caller.
func (p *PeerTransport) WaitChannel(ctx context.Context) error {
	if err := p.handshake.wait(ctx); err != nil {
		return err
	}

	if err := p.channelOpen.wait(ctx); err != nil {
		if errors.Is(err, ctx.Err()) {
			return fmt.Errorf("waiting for data channel: %w", err)
		}
		if !errors.Is(err, ErrClosed) {
			p.fail(err)
		}
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnecting {
		return ErrClosed
	}
	p.setState(StateOpen)
	return nil
}

// Send writes a command if the transport is open
func (p *PeerTransport) Send(x, y float64) bool {
	return p.SendMessage(codec.NewCommand(x, y))
}

// Toggle writes the toggle_commands control message if the transport is open
func (p *PeerTransport) Toggle() bool {
	return p.SendMessage(codec.ToggleCommands())
}

// SendMessage encodes msg and writes it to the data channel.
// It returns false without queuing when the transport is not open or the write fails.
func (p *PeerTransport) SendMessage(msg any) bool {
	frame, err := codec.Encode(msg)
	if err != nil {
		p.log.Warnf("dropping message: %v", err)
		p.emitError(&SendError{Err: err})
		return false
	}

	p.mu.Lock()
	state, dc := p.state, p.dc
	p.mu.Unlock()

	if state != StateOpen || dc == nil {
		p.log.Debugf("data channel not open (%s), dropping message", state)
		return false
	}

	if err := dc.SendText(frame); err != nil {
		p.log.Warnf("send failed: %v", err)
		p.emitError(&SendError{Err: err})
		return false
	}
	return true
}

// Close closes the data channel and then the peer connection, ignoring
// errors from either. An in-flight handshake is cancelled and pending
// waits return ErrClosed. A transport that already Failed stays Failed.
func (p *PeerTransport) Close() {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.setState(StateClosed)
	pc, dc, cancel := p.pc, p.dc, p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.handshake.resolve(ErrClosed)
	p.channelOpen.resolve(ErrClosed)
	p.release(pc, dc)
}

// fail moves a connecting transport to Failed and releases its resources
func (p *PeerTransport) fail(err error) {
	p.mu.Lock()
	if p.state == StateConnecting {
		p.setState(StateFailed)
	}
	pc, dc := p.pc, p.dc
	p.mu.Unlock()

	p.handshake.resolve(err)
	p.channelOpen.resolve(err)
	p.log.Warnf("peer transport failed: %v", err)
	p.release(pc, dc)
}

func (p *PeerTransport) release(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	if dc != nil {
		if err := dc.Close(); err != nil {
			p.log.Debugf("close data channel: %v", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			p.log.Debugf("close peer connection: %v", err)
		}
	}
}

// State returns the current lifecycle state
func (p *PeerTransport) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Kind returns KindPeer
func (p *PeerTransport) Kind() Kind {
	return KindPeer
}

// ID returns the instance id used in log fields
func (p *PeerTransport) ID() string {
	return p.id
}

// setState applies a transition. Caller holds p.mu.
func (p *PeerTransport) setState(next State) {
	if !canTransition(p.state, next) {
		p.log.Warnf("ignoring illegal transition %s -> %s", p.state, next)
		return
	}
	p.log.Debugf("state %s -> %s", p.state, next)
	p.state = next
}

func (p *PeerTransport) emitError(err error) {
	if p.cfg.OnError != nil {
		callHandler(p.log, "error", func() { p.cfg.OnError(err) })
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
