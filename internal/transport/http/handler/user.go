package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherdm/internal/app"
)

type UserHandler struct {
	directory *app.DirectoryService
}

func NewUserHandler(directory *app.DirectoryService) *UserHandler {
	return &UserHandler{directory: directory}
}

// Search resolves an exact username, used to start a conversation by name.
func (h *UserHandler) Search(c *gin.Context) {
	user, err := h.directory.FindExact(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err, "user lookup failed")
		return
	}
	c.JSON(http.StatusOK, user)
}
