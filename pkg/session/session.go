package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/signal"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

// Default endpoints of a locally running command server
const (
	DefaultOfferURL  = "http://localhost:8080/offer_command"
	DefaultSocketURL = "ws://localhost:8080/ws"
	DefaultTimeout   = 10 * time.Second
)

// DefaultSTUNServers returns the public STUN servers used when none are configured
func DefaultSTUNServers() []string {
	return []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	}
}

// ErrNoTransport is returned when neither transport could be opened
var ErrNoTransport = errors.New("no transport available")

// Config assembles everything a session needs. Transports get their
// settings from here and carry no defaults of their own.
type Config struct {
	OfferURL  string
	SocketURL string
	ICE       transport.ICEConfig

	// Deadlines per await point; zero disables one
	HandshakeTimeout time.Duration
	ChannelTimeout   time.Duration
	SocketTimeout    time.Duration

	// Optional overrides, mostly for tests
	Exchanger signal.Exchanger
	Dialer    transport.Dialer
	API       *webrtc.API

	OnMessage func(msg any)
	OnError   func(err error)
	OnClose   func(code int, reason string) // socket only
	OnAttempt func(Attempt)
}

// DefaultConfig returns a config for a command server on localhost
func DefaultConfig() Config {
	return Config{
		OfferURL:         DefaultOfferURL,
		SocketURL:        DefaultSocketURL,
		ICE:              transport.ICEConfig{STUNServers: DefaultSTUNServers()},
		HandshakeTimeout: DefaultTimeout,
		ChannelTimeout:   DefaultTimeout,
		SocketTimeout:    DefaultTimeout,
	}
}

// Attempt is the outcome of trying one transport
type Attempt struct {
	Kind   transport.Kind
	Handle transport.Handle // nil when Err is set
	Err    error
}

// OK reports whether the attempt produced an open transport
func (a Attempt) OK() bool {
	return a.Err == nil
}

func (a Attempt) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", a.Kind, a.Err)
	}
	return fmt.Sprintf("%s: open", a.Kind)
}

// Create opens a transport of the requested kind and returns it once Open.
//
// For KindPeer the WebRTC handshake and channel open are awaited; on any
// failure the peer transport is closed and a socket transport is tried once
// instead. No fallback happens after a handle is returned. When every tried
// transport fails the error wraps ErrNoTransport and each cause.
func Create(ctx context.Context, cfg Config, kind transport.Kind) (transport.Handle, error) {
	if kind == "" {
		kind = transport.KindPeer
	}

	var tiers []func(context.Context, Config) Attempt
	switch kind {
	case transport.KindPeer:
		tiers = append(tiers, tryPeer, trySocket)
	case transport.KindSocket:
		tiers = append(tiers, trySocket)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}

	var merr *multierror.Error
	for i, try := range tiers {
		attempt := try(ctx, cfg)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt)
		}
		if attempt.OK() {
			log.Infof("session open over %s", attempt.Kind)
			return attempt.Handle, nil
		}

		merr = multierror.Append(merr, fmt.Errorf("%s: %w", attempt.Kind, attempt.Err))
		if i < len(tiers)-1 {
			log.Warnf("%s transport unavailable, falling back: %v", attempt.Kind, attempt.Err)
		}
	}

	merr.ErrorFormat = formatErrors
	return nil, fmt.Errorf("%w: %w", ErrNoTransport, merr)
}

func tryPeer(ctx context.Context, cfg Config) Attempt {
	p := transport.NewPeerTransport(transport.PeerConfig{
		OfferURL:         cfg.OfferURL,
		ICE:              cfg.ICE,
		Exchanger:        cfg.Exchanger,
		API:              cfg.API,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ChannelTimeout:   cfg.ChannelTimeout,
		OnMessage:        cfg.OnMessage,
		OnError:          cfg.OnError,
	})

	if err := p.Connect(ctx); err != nil {
		p.Close()
		return Attempt{Kind: transport.KindPeer, Err: err}
	}
	return Attempt{Kind: transport.KindPeer, Handle: p}
}

func trySocket(ctx context.Context, cfg Config) Attempt {
	s := transport.NewSocketTransport(transport.SocketConfig{
		URL:       cfg.SocketURL,
		Dialer:    cfg.Dialer,
		OnMessage: cfg.OnMessage,
		OnClose:   cfg.OnClose,
		OnError:   cfg.OnError,
	})

	if err := s.Connect(ctx); err != nil {
		return Attempt{Kind: transport.KindSocket, Err: err}
	}

	readyCtx := ctx
	if cfg.SocketTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, cfg.SocketTimeout)
		defer cancel()
	}
	if err := s.Ready(readyCtx); err != nil {
		s.Close()
		return Attempt{Kind: transport.KindSocket, Err: fmt.Errorf("waiting for socket: %w", err)}
	}
	return Attempt{Kind: transport.KindSocket, Handle: s}
}

func formatErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
