package realtime

import "gopherdm/internal/model"

const (
	EventJoin    = "join"
	EventJoined  = "joined"
	EventMessage = "message"
	EventError   = "error"
)

// Event is the JSON frame exchanged over the websocket in both directions.
type Event struct {
	Type    string         `json:"type"`
	UserID  uint           `json:"userId,omitempty"`
	Message *model.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func MessageEvent(msg model.Message) Event {
	return Event{Type: EventMessage, Message: &msg}
}
