// Package hub routes realtime events to the live connections watching
// each list. It owns the transient connection/room state; nothing here
// is durable, and a reconnecting client rebuilds its subscriptions from
// scratch.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Event kinds broadcast to list rooms. Consumers treat unknown kinds as
// ignorable, so new kinds can be added freely.
const (
	EventMemberJoined   = "member-joined"
	EventListDeleted    = "list-deleted"
	EventItemAdded      = "item-added"
	EventItemToggled    = "item-toggled"
	EventItemUpdated    = "item-updated"
	EventItemDeleted    = "item-deleted"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
)

// Event is one realtime frame delivered to a room.
type Event struct {
	Kind string         `json:"event"`
	Data map[string]any `json:"data"`
}

// sendBuffer bounds how far one slow connection may lag before it is
// dropped rather than stalling the room.
const sendBuffer = 64

// Conn is one live client connection. The transport layer reads frames
// to deliver from Send and closes the connection when that channel is
// closed.
type Conn struct {
	UserID string
	send   chan []byte
	rooms  map[string]struct{} // owned by the hub loop
}

// NewConn creates a connection for an authenticated user.
func NewConn(userID string) *Conn {
	return &Conn{
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Send returns the channel of outbound frames for this connection.
func (c *Conn) Send() <-chan []byte { return c.send }

type subscription struct {
	conn   *Conn
	listID string
}

type delivery struct {
	listID  string
	exclude *Conn // nil: deliver to every subscriber
	payload []byte
}

type roomQuery struct {
	listID string
	reply  chan int
}

// ErrClosed is returned by operations on a closed hub.
var ErrClosed = errors.New("hub closed")

// Hub maintains the list-id -> connections mapping and fans events out.
// All state is owned by a single run loop, so subscribe, unsubscribe,
// and broadcast are safe to call concurrently, and every subscriber of
// a room observes that room's events in the order they were broadcast.
type Hub struct {
	register    chan *Conn
	unregister  chan *Conn
	subscribe   chan subscription
	unsubscribe chan subscription
	deliveries  chan delivery
	queries     chan roomQuery
	done        chan struct{}

	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]struct{}
}

// New constructs a hub and starts its run loop.
func New() *Hub {
	h := &Hub{
		register:    make(chan *Conn),
		unregister:  make(chan *Conn),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		deliveries:  make(chan delivery, 16),
		queries:     make(chan roomQuery),
		done:        make(chan struct{}),
		rooms:       make(map[string]map[*Conn]struct{}),
		conns:       make(map[*Conn]struct{}),
	}
	go h.run()
	return h
}

// Close stops the run loop and closes every connection's send channel.
func (h *Hub) Close() {
	close(h.done)
}

// Register adds a live connection to the hub.
func (h *Hub) Register(c *Conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a connection from every room and closes its send
// channel. Called on disconnect.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Subscribe adds the connection to a list's room. Idempotent. The
// caller is responsible for gating this with a membership check; the
// hub does not re-check on delivery.
func (h *Hub) Subscribe(c *Conn, listID string) {
	select {
	case h.subscribe <- subscription{conn: c, listID: listID}:
	case <-h.done:
	}
}

// Unsubscribe removes the connection from a list's room.
func (h *Hub) Unsubscribe(c *Conn, listID string) {
	select {
	case h.unsubscribe <- subscription{conn: c, listID: listID}:
	case <-h.done:
	}
}

// Broadcast delivers an event to every connection subscribed to the
// list's room, including the originating actor's own connections.
func (h *Hub) Broadcast(listID string, e Event) error {
	return h.send(listID, nil, e)
}

// Relay delivers an event to the room excluding one connection. Used
// for presence chatter such as typing indicators.
func (h *Hub) Relay(listID string, from *Conn, e Event) error {
	return h.send(listID, from, e)
}

func (h *Hub) send(listID string, exclude *Conn, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	select {
	case h.deliveries <- delivery{listID: listID, exclude: exclude, payload: payload}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// RoomSize reports the number of connections subscribed to a list.
func (h *Hub) RoomSize(listID string) int {
	q := roomQuery{listID: listID, reply: make(chan int, 1)}
	select {
	case h.queries <- q:
		return <-q.reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.conns[c] = struct{}{}
		case c := <-h.unregister:
			h.drop(c)
		case sub := <-h.subscribe:
			if _, ok := h.conns[sub.conn]; !ok {
				continue
			}
			room := h.rooms[sub.listID]
			if room == nil {
				room = make(map[*Conn]struct{})
				h.rooms[sub.listID] = room
			}
			room[sub.conn] = struct{}{}
			sub.conn.rooms[sub.listID] = struct{}{}
		case sub := <-h.unsubscribe:
			h.leave(sub.conn, sub.listID)
		case d := <-h.deliveries:
			for c := range h.rooms[d.listID] {
				if c == d.exclude {
					continue
				}
				select {
				case c.send <- d.payload:
				default:
					// Connection can't keep up; cut it loose so the
					// rest of the room keeps receiving in order.
					slog.Warn("dropping slow connection", "user_id", c.UserID, "list_id", d.listID)
					h.drop(c)
				}
			}
		case q := <-h.queries:
			q.reply <- len(h.rooms[q.listID])
		case <-h.done:
			for c := range h.conns {
				close(c.send)
			}
			h.conns = make(map[*Conn]struct{})
			h.rooms = make(map[string]map[*Conn]struct{})
			return
		}
	}
}

// leave removes a connection from one room, freeing the room when it
// empties.
func (h *Hub) leave(c *Conn, listID string) {
	if room, ok := h.rooms[listID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, listID)
		}
	}
	delete(c.rooms, listID)
}

// drop removes a connection entirely and closes its send channel.
func (h *Hub) drop(c *Conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	for listID := range c.rooms {
		h.leave(c, listID)
	}
	delete(h.conns, c)
	close(c.send)
}
