package server

import (
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/codec"
)

// CommandHandler receives decoded frames from either transport.
// Methods may be called concurrently from different connections.
type CommandHandler interface {
	OnCommand(x, y float64)
	OnToggle()
	// OnRaw receives frames that are not a known message
	OnRaw(msg any)
}

// HandlerFuncs adapts plain functions to CommandHandler. Nil fields are skipped.
type HandlerFuncs struct {
	Command func(x, y float64)
	Toggle  func()
	Raw     func(msg any)
}

func (h HandlerFuncs) OnCommand(x, y float64) {
	if h.Command != nil {
		h.Command(x, y)
	}
}

func (h HandlerFuncs) OnToggle() {
	if h.Toggle != nil {
		h.Toggle()
	}
}

func (h HandlerFuncs) OnRaw(msg any) {
	if h.Raw != nil {
		h.Raw(msg)
	}
}

// readPump reads frames from the WebSocket
func (s *Server) readPump(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.sockets, conn)
		s.mu.Unlock()
		conn.Close()
		log.Info("websocket connection closed")
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(conn.RemoteAddr().String(), string(message))
	}
}

// dispatch decodes one frame and hands it to the command handler
func (s *Server) dispatch(source, frame string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("%s: command handler panicked: %v", source, r)
		}
	}()

	switch msg := codec.Decode(frame).(type) {
	case codec.Command:
		s.handler.OnCommand(msg.X, msg.Y)
	case codec.Control:
		s.handler.OnToggle()
	default:
		log.Debugf("%s: failed to treat message as command: %q", source, frame)
		s.handler.OnRaw(msg)
	}
}
