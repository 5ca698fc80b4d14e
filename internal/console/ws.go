package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// actionMessage is sent by the page over the websocket.
type actionMessage struct {
	Action string `json:"action"`
}

// handleWebSocket runs one control connection: state events go out, actions
// come in. A single goroutine owns writes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, stateCh := s.states.Subscribe()
	defer s.states.Unsubscribe(id)

	replies := make(chan []byte, wsSendBuffer)
	done := make(chan struct{})
	go s.wsWriter(conn, stateCh, replies, done)
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg actionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("websocket read: %v", err)
			}
			return
		}
		if err := s.applyAction(msg.Action); err != nil {
			data, _ := json.Marshal(errorMessage{Type: "error", Message: err.Error()})
			select {
			case replies <- data:
			default:
			}
		}
	}
}

func (s *Server) applyAction(action string) error {
	switch action {
	case "live":
		s.ctrl.SelectLive()
	case "run":
		return s.ctrl.Run()
	case "stop":
		s.ctrl.Stop()
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func (s *Server) wsWriter(conn *websocket.Conn, stateCh <-chan *SerializedEvent, replies <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(kind int, data []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(kind, data); err != nil {
			s.log.Debugf("websocket write: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-stateCh:
			if !ok || !write(websocket.TextMessage, event.JSONData) {
				return
			}
		case data := <-replies:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}
