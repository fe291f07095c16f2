package handler

import (
	"github.com/gin-gonic/gin"

	"gopherdm/internal/realtime"
)

type RealtimeHandler struct {
	upgrader *realtime.Upgrader
}

func NewRealtimeHandler(upgrader *realtime.Upgrader) *RealtimeHandler {
	return &RealtimeHandler{upgrader: upgrader}
}

// Connect upgrades to a websocket bound to the authenticated user. It
// blocks until the socket closes.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	h.upgrader.Serve(c.Writer, c.Request, userID)
}
