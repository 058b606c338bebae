package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/rovlink/pkg/codec"
	"github.com/tomaslejdung/rovlink/pkg/signal"
)

// loopback answers offers with an in-process pion peer and records what
// arrives on its data channel
type loopback struct {
	api *webrtc.API

	mu     sync.Mutex
	offers int
	peers  []*webrtc.PeerConnection

	frames   chan string
	channels chan *webrtc.DataChannel
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	l := &loopback{
		api:      LoopbackAPI(),
		frames:   make(chan string, 16),
		channels: make(chan *webrtc.DataChannel, 1),
	}
	t.Cleanup(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, pc := range l.peers {
			pc.Close()
		}
	})
	return l
}

func (l *loopback) Exchange(ctx context.Context, _ string, offer signal.SessionDescription) (signal.SessionDescription, error) {
	pc, err := l.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return signal.SessionDescription{}, err
	}
	l.mu.Lock()
	l.offers++
	l.peers = append(l.peers, pc)
	l.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			select {
			case l.channels <- dc:
			default:
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			l.frames <- string(msg.Data)
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return signal.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return signal.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return signal.SessionDescription{}, ctx.Err()
	}
	return signal.NewAnswer(pc.LocalDescription().SDP), nil
}

func (l *loopback) Offers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offers
}

type exchangeFunc func(ctx context.Context, url string, offer signal.SessionDescription) (signal.SessionDescription, error)

func (f exchangeFunc) Exchange(ctx context.Context, url string, offer signal.SessionDescription) (signal.SessionDescription, error) {
	return f(ctx, url, offer)
}

func newTestPeer(exchanger signal.Exchanger, opts ...func(*PeerConfig)) *PeerTransport {
	cfg := PeerConfig{
		OfferURL:         "http://localhost:8080/offer_command",
		Exchanger:        exchanger,
		API:              LoopbackAPI(),
		HandshakeTimeout: waitTimeout,
		ChannelTimeout:   waitTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewPeerTransport(cfg)
}

func TestPeerOpensAndSends(t *testing.T) {
	answerer := newLoopback(t)
	p := newTestPeer(answerer)
	t.Cleanup(p.Close)

	assert.Equal(t, StateIdle, p.State())
	assert.False(t, p.Send(1, 1), "send before connect")

	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, StateOpen, p.State())
	assert.Equal(t, KindPeer, p.Kind())
	assert.Equal(t, 1, answerer.Offers())

	assert.True(t, p.Send(3, 4))
	assert.Equal(t, `{"type":"command","x":3,"y":4}`, recv(t, answerer.frames))

	assert.True(t, p.Toggle())
	assert.Equal(t, `{"type":"toggle_commands"}`, recv(t, answerer.frames))
}

func TestPeerInboundFrames(t *testing.T) {
	answerer := newLoopback(t)
	msgs := make(chan any, 4)
	p := newTestPeer(answerer, func(cfg *PeerConfig) {
		cfg.OnMessage = func(msg any) { msgs <- msg }
	})
	t.Cleanup(p.Close)

	require.NoError(t, p.Connect(context.Background()))
	remote := recv(t, answerer.channels)

	require.NoError(t, remote.SendText(`{"type":"toggle_commands"}`))
	require.NoError(t, remote.SendText(`not json`))

	assert.Equal(t, codec.ToggleCommands(), recv(t, msgs))
	assert.Equal(t, "not json", recv(t, msgs))
}

func TestPeerHandshakeOnce(t *testing.T) {
	answerer := newLoopback(t)
	p := newTestPeer(answerer)
	t.Cleanup(p.Close)

	require.NoError(t, p.Connect(context.Background()))
	assert.ErrorIs(t, p.Handshake(context.Background()), ErrAlreadyStarted)
	assert.ErrorIs(t, p.Connect(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, 1, answerer.Offers())
	assert.Equal(t, StateOpen, p.State())
}

func TestPeerExchangeFailure(t *testing.T) {
	exchangeErr := &signal.Error{URL: "http://localhost:8080/offer_command", StatusCode: 500, Err: signal.ErrBadStatus}
	calls := 0
	p := newTestPeer(exchangeFunc(func(context.Context, string, signal.SessionDescription) (signal.SessionDescription, error) {
		calls++
		return signal.SessionDescription{}, exchangeErr
	}))

	err := p.Connect(context.Background())
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 500, serr.StatusCode)
	assert.Equal(t, 1, calls)

	assert.Equal(t, StateFailed, p.State())
	assert.False(t, p.Send(3, 4))
	assert.ErrorIs(t, p.WaitChannel(context.Background()), signal.ErrBadStatus)

	p.Close()
	assert.Equal(t, StateFailed, p.State())
}

func TestPeerInvalidAnswer(t *testing.T) {
	p := newTestPeer(exchangeFunc(func(context.Context, string, signal.SessionDescription) (signal.SessionDescription, error) {
		return signal.NewAnswer("garbage"), nil
	}))

	err := p.Connect(context.Background())
	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "set remote description", nerr.Stage)
	assert.Equal(t, StateFailed, p.State())
}

func TestPeerOfferCarriesCandidates(t *testing.T) {
	var got signal.SessionDescription
	p := newTestPeer(exchangeFunc(func(_ context.Context, _ string, offer signal.SessionDescription) (signal.SessionDescription, error) {
		got = offer
		return signal.SessionDescription{}, errors.New("stop here")
	}))
	t.Cleanup(p.Close)

	require.Error(t, p.Connect(context.Background()))
	assert.Equal(t, signal.TypeOffer, got.Type)
	assert.Contains(t, got.SDP, "a=candidate:")
	assert.Contains(t, got.SDP, "m=application")
}

func TestPeerCloseDuringHandshake(t *testing.T) {
	entered := make(chan struct{})
	p := newTestPeer(exchangeFunc(func(ctx context.Context, _ string, _ signal.SessionDescription) (signal.SessionDescription, error) {
		close(entered)
		<-ctx.Done()
		return signal.SessionDescription{}, ctx.Err()
	}))

	done := make(chan error, 1)
	go func() { done <- p.Connect(context.Background()) }()

	recv(t, entered)
	p.Close()

	assert.ErrorIs(t, recv(t, done), ErrClosed)
	assert.Equal(t, StateClosed, p.State())
	assert.False(t, p.Send(1, 2))
}

func TestPeerChannelTimeout(t *testing.T) {
	// Answer with a peer that goes away before ICE can connect
	answerAPI := LoopbackAPI()
	p := newTestPeer(exchangeFunc(func(ctx context.Context, _ string, offer signal.SessionDescription) (signal.SessionDescription, error) {
		pc, err := answerAPI.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return signal.SessionDescription{}, err
		}
		defer pc.Close()
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
			return signal.SessionDescription{}, err
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return signal.SessionDescription{}, err
		}
		return signal.NewAnswer(answer.SDP), nil
	}), func(cfg *PeerConfig) {
		cfg.ChannelTimeout = 300 * time.Millisecond
	})
	t.Cleanup(p.Close)

	start := time.Now()
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), waitTimeout)
	assert.NotEqual(t, StateOpen, p.State())
	assert.False(t, p.Send(1, 2))

	p.Close()
	assert.True(t, p.State().Terminal())
}

func TestPeerRemoteCloseReleasesConnection(t *testing.T) {
	answerer := newLoopback(t)
	p := newTestPeer(answerer)
	t.Cleanup(p.Close)

	require.NoError(t, p.Connect(context.Background()))
	remote := recv(t, answerer.channels)

	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	require.NotNil(t, pc)

	require.NoError(t, remote.Close())
	require.Eventually(t, func() bool {
		return p.State() == StateClosed
	}, waitTimeout, 10*time.Millisecond)

	p.Close()
	require.Eventually(t, func() bool {
		return pc.ConnectionState() == webrtc.PeerConnectionStateClosed
	}, waitTimeout, 10*time.Millisecond)
	assert.False(t, p.Send(1, 1))
}

func TestPeerCloseIdle(t *testing.T) {
	p := newTestPeer(newLoopback(t))
	p.Close()
	p.Close()
	assert.Equal(t, StateClosed, p.State())
	assert.ErrorIs(t, p.Connect(context.Background()), ErrAlreadyStarted)
}
