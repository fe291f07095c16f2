package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientOptions struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	return o
}

// Client is one websocket session bound to an authenticated user.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	userID  uint
	opts    ClientOptions
	log     *zap.Logger
}

// Upgrader turns authenticated HTTP requests into hub-registered clients.
type Upgrader struct {
	hub      *Hub
	opts     ClientOptions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewUpgrader(hub *Hub, opts ClientOptions) *Upgrader {
	return &Upgrader{
		hub:  hub,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: hub.log.Named("ws"),
	}
}

// Serve upgrades the request and runs the connection until it closes.
// userID must come from the auth layer; it is the only identity this
// connection may ever join as.
func (u *Upgrader) Serve(w http.ResponseWriter, r *http.Request, userID uint) {
	session, err := u.hub.Register()
	if err != nil {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.hub.Leave(session.ID)
		u.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:     u.hub,
		conn:    conn,
		session: session,
		userID:  userID,
		opts:    u.opts,
		log:     u.log.With(zap.String("conn_id", session.ID), zap.Uint("user_id", userID)),
	}
	c.log.Info("socket connected")

	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c.session.ID)
		_ = c.conn.Close()
		c.log.Info("socket disconnected")
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		var in Event
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("socket read failed", zap.Error(err))
			}
			return
		}

		switch in.Type {
		case EventJoin:
			c.handleJoin(in)
		default:
			c.hub.Notify(c.session.ID, Event{Type: EventError, Error: "unsupported event type"})
		}
	}
}

// handleJoin only ever joins the authenticated identity. A frame naming a
// different user is refused rather than trusted.
func (c *Client) handleJoin(in Event) {
	if in.UserID != 0 && in.UserID != c.userID {
		c.log.Warn("join for foreign identity refused", zap.Uint("requested_user_id", in.UserID))
		c.hub.Notify(c.session.ID, Event{Type: EventError, Error: "cannot join another user's room"})
		return
	}
	if err := c.hub.Join(c.session.ID, c.userID); err != nil {
		c.log.Warn("join failed", zap.Error(err))
		return
	}
	c.hub.Notify(c.session.ID, Event{Type: EventJoined, UserID: c.userID})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.session.Events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
