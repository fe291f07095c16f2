package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gopherdm/internal/app"
	"gopherdm/internal/transport/http/response"
)

type MessageHandler struct {
	messages *app.MessageService
	history  *app.HistoryService
}

// SendMessageRequest accepts receiverId as a JSON number or a numeric string.
type SendMessageRequest struct {
	ReceiverID json.Number `json:"receiverId"`
	Content    string      `json:"content"`
}

func NewMessageHandler(messages *app.MessageService, history *app.HistoryService) *MessageHandler {
	return &MessageHandler{messages: messages, history: history}
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	receiverID, err := strconv.ParseUint(req.ReceiverID.String(), 10, 64)
	if err != nil || receiverID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "receiverId must be a positive integer")
		return
	}

	msg, err := h.messages.Submit(c.Request.Context(), app.SubmitInput{
		SenderID:   userID,
		ReceiverID: uint(receiverID),
		Content:    req.Content,
	})
	if err != nil {
		writeError(c, err, "send message failed")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Conversation serves both /conversation/:peerUserId and the older
// /messages/:userId path.
func (h *MessageHandler) Conversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	raw := c.Param("peerUserId")
	if raw == "" {
		raw = c.Param("userId")
	}
	peerID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "peer user id must be an integer")
		return
	}

	query, ok := parseHistoryQuery(c)
	if !ok {
		return
	}

	messages, err := h.history.Conversation(c.Request.Context(), userID, uint(peerID), query)
	if err != nil {
		writeError(c, err, "fetch history failed")
		return
	}

	c.JSON(http.StatusOK, messages)
}

func parseHistoryQuery(c *gin.Context) (app.HistoryQuery, bool) {
	var q app.HistoryQuery
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "limit must be a non-negative integer")
			return q, false
		}
		q.Limit = limit
	}
	if raw := c.Query("before"); raw != "" {
		before, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "before must be a message id")
			return q, false
		}
		q.BeforeID = uint(before)
	}
	return q, true
}
