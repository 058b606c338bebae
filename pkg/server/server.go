package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/signal"
)

// Default routes
const (
	OfferPath  = "/offer_command"
	SocketPath = "/ws"
)

// maxOfferSize bounds the offer request body
const maxOfferSize = 1 << 20

// Server answers WebRTC offers over HTTP and accepts WebSocket command
// connections, dispatching every decoded frame to one CommandHandler
type Server struct {
	handler  CommandHandler
	config   webrtc.Configuration
	api      *webrtc.API
	upgrader websocket.Upgrader

	mu          sync.Mutex
	peers       map[string]*webrtc.PeerConnection
	sockets     map[*websocket.Conn]bool
	peerCounter int
	closed      bool
}

// Option customizes a Server
type Option func(*Server)

// WithAPI makes the server create peer connections through api,
// e.g. one built with a SettingEngine that admits loopback candidates
func WithAPI(api *webrtc.API) Option {
	return func(s *Server) {
		s.api = api
	}
}

// NewServer creates a command server. config is used for every answering
// peer connection; the zero value gathers host candidates only.
func NewServer(handler CommandHandler, config webrtc.Configuration, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		peers:   make(map[string]*webrtc.PeerConnection),
		sockets: make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(OfferPath, s.HandleOffer)
	mux.HandleFunc(SocketPath, s.HandleWebSocket)
	return mux
}

// StartServer serves the command routes on addr
func (s *Server) StartServer(addr string) error {
	log.Infof("command server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// HandleOffer answers a JSON {sdp, type: "offer"} with {sdp, type: "answer"}.
// The answer carries all gathered candidates.
func (s *Server) HandleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var offer signal.SessionDescription
	if err := json.NewDecoder(io.LimitReader(r.Body, maxOfferSize)).Decode(&offer); err != nil {
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}
	if offer.Type != signal.TypeOffer || offer.SDP == "" {
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	pc, id, err := s.newPeer()
	if err != nil {
		log.Errorf("failed to create peer connection: %v", err)
		http.Error(w, "Peer connection unavailable", http.StatusInternalServerError)
		return
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		s.removePeer(id)
		log.Warnf("%s: rejected offer: %v", id, err)
		http.Error(w, "Invalid offer", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.removePeer(id)
		log.Errorf("%s: failed to create answer: %v", id, err)
		http.Error(w, "Negotiation failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		s.removePeer(id)
		log.Errorf("%s: failed to set local description: %v", id, err)
		http.Error(w, "Negotiation failed", http.StatusInternalServerError)
		return
	}

	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		s.removePeer(id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(signal.NewAnswer(pc.LocalDescription().SDP)); err != nil {
		log.Warnf("%s: failed to write answer: %v", id, err)
	}
}

// newPeer creates and registers an answering peer connection
func (s *Server) newPeer() (*webrtc.PeerConnection, string, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if s.api != nil {
		pc, err = s.api.NewPeerConnection(s.config)
	} else {
		pc, err = webrtc.NewPeerConnection(s.config)
	}
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pc.Close()
		return nil, "", fmt.Errorf("server closed")
	}
	s.peerCounter++
	id := fmt.Sprintf("peer-%d", s.peerCounter)
	s.peers[id] = pc
	s.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Infof("%s: data channel received: %s", id, dc.Label())
		dc.OnOpen(func() {
			log.Infof("%s: data channel opened: %s", id, dc.Label())
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.dispatch(id, string(msg.Data))
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Infof("%s: ICE connection state is %s", id, state.String())
		switch state {
		case webrtc.ICEConnectionStateFailed:
			s.removePeer(id)
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			log.Infof("%s: WebRTC connection established", id)
		}
	})

	return pc, id, nil
}

// removePeer closes and forgets a peer connection
func (s *Server) removePeer(id string) {
	s.mu.Lock()
	pc, exists := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if !exists {
		return
	}
	if err := pc.Close(); err != nil {
		log.Debugf("%s: close: %v", id, err)
	}
}

// HandleWebSocket upgrades the request and reads command frames until the client leaves
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sockets[conn] = true
	s.mu.Unlock()

	log.Infof("websocket connection established from %s", r.RemoteAddr)
	go s.readPump(conn)
}

// PeerCount returns the number of live answering peer connections
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// SocketCount returns the number of connected WebSocket clients
func (s *Server) SocketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Close closes every peer connection and socket. New offers and
// upgrades are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := s.peers
	sockets := s.sockets
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.sockets = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			log.Debugf("%s: close: %v", id, err)
		}
	}
	for conn := range sockets {
		conn.Close()
	}
}
