package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherdm/internal/model"
	"gopherdm/internal/pkg/logger"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrHubClosed         = errors.New("hub closed")
)

const defaultSendBuffer = 256

// Hub maps user rooms to live connections. Publishes are serialised under
// one lock and each connection drains a FIFO queue, so events published to
// a room arrive in publish order. Membership is memory only.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*connection
	rooms  map[uint]map[string]*connection
	closed bool

	sendBuffer int
	log        *zap.Logger
}

type connection struct {
	id    string
	send  chan Event
	rooms map[uint]struct{}
}

// Session is the registration handle of one transport connection.
type Session struct {
	ID     string
	Events <-chan Event
}

func NewHub(log *zap.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		conns:      make(map[string]*connection),
		rooms:      make(map[uint]map[string]*connection),
		sendBuffer: sendBuffer,
		log:        logger.OrNop(log).Named("hub"),
	}
}

// Register allocates a connection id and its outbound queue. The returned
// Events channel is closed when the connection leaves or is dropped.
func (h *Hub) Register() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	c := &connection{
		id:    uuid.NewString(),
		send:  make(chan Event, h.sendBuffer),
		rooms: make(map[uint]struct{}),
	}
	h.conns[c.id] = c
	return &Session{ID: c.id, Events: c.send}, nil
}

// Join adds connID to userID's room. Joining twice is a no-op.
func (h *Hub) Join(connID string, userID uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, already := c.rooms[userID]; already {
		return nil
	}
	room := h.rooms[userID]
	if room == nil {
		room = make(map[string]*connection)
		h.rooms[userID] = room
	}
	room[connID] = c
	c.rooms[userID] = struct{}{}
	h.log.Debug("connection joined room", zap.String("conn_id", connID), zap.Uint("user_id", userID))
	return nil
}

// Leave removes connID from every room and closes its queue.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[connID]; ok {
		h.dropLocked(c)
	}
}

// Publish fans msg out to every connection currently in userID's room.
// Delivery is best effort: a connection whose queue is full is dropped and
// must catch up through a history fetch after reconnecting.
func (h *Hub) Publish(_ context.Context, userID uint, msg model.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := MessageEvent(msg)
	for _, c := range h.rooms[userID] {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("send queue full, dropping connection",
				zap.String("conn_id", c.id), zap.Uint("user_id", userID))
			h.dropLocked(c)
		}
	}
	return nil
}

// Notify queues ev for a single connection without blocking.
func (h *Hub) Notify(connID string, ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (h *Hub) Members(userID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[userID])
}

func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close drops every connection. Register fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.conns {
		h.dropLocked(c)
	}
	h.closed = true
}

func (h *Hub) dropLocked(c *connection) {
	for userID := range c.rooms {
		room := h.rooms[userID]
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, userID)
		}
	}
	delete(h.conns, c.id)
	close(c.send)
}
