package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cartshare/internal/hub"
	"cartshare/internal/util"
	"cartshare/pkg/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client connects from a different origin; access is
	// gated by the session token instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientMessage is a frame sent by the client over the socket.
type clientMessage struct {
	Action string `json:"action"`
	ListID string `json:"listId"`
}

// handleWS authenticates the session token from the query string,
// upgrades the connection and attaches it to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.audit(r, "ws.authorize", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		s.audit(r, "ws.authorize", "fail", "reason", "invalid_signature_or_claims")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := s.app.UserByID(r.Context(), claims.UserID)
	if err != nil {
		s.audit(r, "ws.authorize", "fail", "reason", "unknown_user")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	s.audit(r, "ws.authorize", "success", "user_id", user.ID)

	conn := hub.NewConn(user.ID)
	s.hub.Register(conn)
	// direct carries frames addressed to this client only, bypassing
	// the hub. The write pump is the sole writer on the socket.
	direct := make(chan []byte, 8)
	go s.writePump(ws, conn, direct)
	s.readPump(r, ws, conn, user, direct)
}

// readPump owns the socket's read side. It tracks which rooms this
// connection has joined so typing relays cannot reach rooms the
// membership check never cleared.
func (s *Server) readPump(r *http.Request, ws *websocket.Conn, conn *hub.Conn, user domain.User, direct chan<- []byte) {
	logger := util.LoggerFromContext(r.Context())
	defer func() {
		s.hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	joined := make(map[string]struct{})
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "user_id", user.ID, "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendSocketError(direct, "invalid message")
			continue
		}
		if msg.ListID == "" {
			sendSocketError(direct, "listId is required")
			continue
		}
		switch msg.Action {
		case "join-list":
			_, ok, err := s.app.Registry().IsMember(r.Context(), user.ID, msg.ListID)
			if err != nil {
				logger.Error("membership check failed", "user_id", user.ID, "list_id", msg.ListID, "error", err)
				sendSocketError(direct, "internal error")
				continue
			}
			if !ok {
				s.audit(r, "ws.join", "fail", "user_id", user.ID, "list_id", msg.ListID)
				sendSocketError(direct, "not found")
				continue
			}
			s.hub.Subscribe(conn, msg.ListID)
			joined[msg.ListID] = struct{}{}
		case "leave-list":
			s.hub.Unsubscribe(conn, msg.ListID)
			delete(joined, msg.ListID)
		case "typing", "stop-typing":
			if _, ok := joined[msg.ListID]; !ok {
				continue
			}
			kind := hub.EventUserTyping
			if msg.Action == "stop-typing" {
				kind = hub.EventUserStopTyping
			}
			_ = s.hub.Relay(msg.ListID, conn, hub.Event{
				Kind: kind,
				Data: map[string]any{
					"listId": msg.ListID,
					"user":   user.Ref(),
				},
			})
		default:
			// unknown actions are ignored so old clients stay connected
		}
	}
}

// writePump drains the hub's per-connection buffer onto the socket and
// keeps the peer alive with pings. Writes to the socket happen only
// here.
func (s *Server) writePump(ws *websocket.Conn, conn *hub.Conn, direct <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case payload, ok := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped us, most likely for falling behind.
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-direct:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendSocketError(direct chan<- []byte, msg string) {
	payload, err := json.Marshal(hub.Event{
		Kind: "error",
		Data: map[string]any{"message": msg},
	})
	if err != nil {
		return
	}
	select {
	case direct <- payload:
	default:
		// client is not draining, the next read error will end the session
	}
}
