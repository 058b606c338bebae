package signal

// SDP types carried in the "type" field
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
)

// SessionDescription is the handshake payload exchanged with the signaling server.
// The body is opaque to this package.
type SessionDescription struct {
	Type string `json:"type,omitempty"` // offer or answer
	SDP  string `json:"sdp"`            // SDP body
}

// NewOffer wraps an SDP body as an offer description
func NewOffer(sdp string) SessionDescription {
	return SessionDescription{Type: TypeOffer, SDP: sdp}
}

// NewAnswer wraps an SDP body as an answer description
func NewAnswer(sdp string) SessionDescription {
	return SessionDescription{Type: TypeAnswer, SDP: sdp}
}
