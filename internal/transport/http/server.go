package http

import (
	"github.com/gin-gonic/gin"

	"gopherdm/internal/bootstrap"
	"gopherdm/internal/transport/http/handler"
	"gopherdm/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	userHandler := handler.NewUserHandler(app.DirectoryService)
	messageHandler := handler.NewMessageHandler(app.MessageService, app.HistoryService)
	realtimeHandler := handler.NewRealtimeHandler(app.Upgrader)
	requireAuth := middleware.AuthJWT(app.AuthService)

	router.GET("/ws", requireAuth, realtimeHandler.Connect)

	api := router.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	dm := api.Group("")
	dm.Use(requireAuth)
	dm.GET("/users/search/:username", userHandler.Search)
	dm.GET("/conversation/:peerUserId", messageHandler.Conversation)
	dm.GET("/messages/:userId", messageHandler.Conversation)
	dm.POST("/messages", messageHandler.Send)

	return router
}
