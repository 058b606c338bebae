package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxAnswerSize bounds the response body read from the signaling server
const maxAnswerSize = 1 << 20

// DefaultTimeout is used by NewHTTPExchange when no client is supplied
const DefaultTimeout = 15 * time.Second

var (
	// ErrBadStatus is wrapped when the server answers with a non-2xx status
	ErrBadStatus = errors.New("unexpected response status")
	// ErrInvalidAnswer is wrapped when the response is not a usable answer
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrInvalidOffer is wrapped when the caller passes something other than an offer
	ErrInvalidOffer = errors.New("invalid offer")
)

// Error is a failed offer/answer exchange
type Error struct {
	URL        string
	StatusCode int // zero unless the server responded
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("signaling %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("signaling %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Exchanger performs the offer/answer handshake with a signaling server
type Exchanger interface {
	Exchange(ctx context.Context, url string, offer SessionDescription) (SessionDescription, error)
}

// HTTPExchange posts the offer as JSON and reads the answer from the response body.
// It holds no per-call state and may be shared.
type HTTPExchange struct {
	client *http.Client
}

// NewHTTPExchange returns an exchange using client, or a default client when nil
func NewHTTPExchange(client *http.Client) *HTTPExchange {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPExchange{client: client}
}

// Exchange sends offer to url and returns the remote answer
func (e *HTTPExchange) Exchange(ctx context.Context, url string, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != TypeOffer || offer.SDP == "" {
		return SessionDescription{}, &Error{URL: url, Err: ErrInvalidOffer}
	}

	body, err := json.Marshal(offer)
	if err != nil {
		return SessionDescription{}, &Error{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SessionDescription{}, &Error{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debugf("sending offer to %s", url)

	resp, err := e.client.Do(req)
	if err != nil {
		return SessionDescription{}, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxAnswerSize))
		return SessionDescription{}, &Error{URL: url, StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}

	var answer SessionDescription
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAnswerSize)).Decode(&answer); err != nil {
		return SessionDescription{}, &Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", ErrInvalidAnswer, err),
		}
	}

	if answer.SDP == "" {
		return SessionDescription{}, &Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: missing sdp", ErrInvalidAnswer),
		}
	}

	// type is optional on the wire and defaults to answer
	switch answer.Type {
	case "":
		answer.Type = TypeAnswer
	case TypeAnswer:
	default:
		return SessionDescription{}, &Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: type %q", ErrInvalidAnswer, answer.Type),
		}
	}

	return answer, nil
}
